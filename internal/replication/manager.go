package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quillbyte/pgreplicate/internal/logging"
)

// SlotManager reconciles the server-side slot state against a
// SessionConfig before a stream can start: it creates the slot if absent,
// rejects an already-active slot, and computes the LSN a fresh stream
// should request.
type SlotManager struct {
	logger logging.Logger
}

// NewSlotManager returns a SlotManager that logs through logger.
func NewSlotManager(logger logging.Logger) *SlotManager {
	return &SlotManager{logger: logging.OrNoOp(logger)}
}

// Ensure reconciles cfg's slot against the server and returns the LSN a new
// stream should start from. replConn must already be a live connection
// opened with replication=database.
func (m *SlotManager) Ensure(ctx context.Context, cfg SessionConfig, control *ControlConnection, replConn *pgconn.PgConn) (LSN, error) {
	for attempt := 0; ; attempt++ {
		info, err := control.ReadSlotInfo(ctx, cfg.SlotName, cfg.Plugin)
		if err != nil {
			return 0, err
		}

		shouldCreate := false
		if !info.Valid {
			if err := m.createSlot(ctx, cfg, control, replConn); err != nil {
				if isUniqueViolation(err) && attempt == 0 {
					m.logger.Debug("slot creation raced with concurrent create, re-reading", logging.Fields{"slot": cfg.SlotName})
					continue
				}
				return 0, err
			}
			shouldCreate = true
		} else if info.Active {
			return 0, fmt.Errorf("%w: slot %s", ErrSlotBusy, cfg.SlotName)
		}

		sysident, err := pglogrepl.IdentifySystem(ctx, replConn)
		if err != nil {
			return 0, fmt.Errorf("%w: identify system: %v", ErrNotAReplicationConnection, err)
		}

		startingLSN := sysident.XLogPos
		if !shouldCreate && info.HasValidFlushedLSN {
			startingLSN = minLSN(info.ConfirmedFlushedLSN, sysident.XLogPos)
		}

		m.logger.Info("slot reconciled", logging.Fields{
			"slot":       cfg.SlotName,
			"created":    shouldCreate,
			"startingAt": FormatLSN(startingLSN),
		})

		return startingLSN, nil
	}
}

func (m *SlotManager) createSlot(ctx context.Context, cfg SessionConfig, control *ControlConnection, replConn *pgconn.PgConn) error {
	if cfg.TemporarySlot() {
		_, err := pglogrepl.CreateReplicationSlot(ctx, replConn, cfg.SlotName, cfg.Plugin, pglogrepl.CreateReplicationSlotOptions{
			Temporary: true,
		})
		if err != nil {
			return fmt.Errorf("create temporary slot %s: %w", cfg.SlotName, err)
		}
		return nil
	}
	return control.CreateLogicalSlot(ctx, cfg.SlotName, cfg.Plugin)
}

func minLSN(a, b LSN) LSN {
	if a < b {
		return a
	}
	return b
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42710"
	}
	return false
}

func isSlotAlreadyExistsErr(err error) bool {
	return isUniqueViolation(err)
}
