package replication

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillbyte/pgreplicate/internal/logging"
	"github.com/quillbyte/pgreplicate/internal/postgres"
)

// ControlConnection is a standard (non-replication-mode) connection pool
// used for slot introspection and slot teardown. The replication protocol
// itself never flows over this connection; START_REPLICATION and friends
// run on the dedicated connection ReplicationSession owns.
type ControlConnection struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewControlConnection dials a standard connection pool against dsn. When
// iamProvider is non-nil, the pool authenticates via a short-lived RDS IAM
// auth token instead of whatever password is embedded in dsn.
func NewControlConnection(ctx context.Context, dsn string, logger logging.Logger, iamProvider *postgres.RDSIAMTokenProvider) (*ControlConnection, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: dsn is required", ErrInternal)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse control dsn: %w", err)
	}
	if iamProvider != nil {
		if err := iamProvider.ApplyToPoolConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("apply rds iam auth: %w", err)
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect control pool: %w", err)
	}
	return &ControlConnection{pool: pool, logger: logging.OrNoOp(logger)}, nil
}

// Close releases the underlying pool.
func (c *ControlConnection) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

const slotInfoQuery = `
SELECT
  slot_name,
  plugin,
  database,
  active,
  active_pid,
  temporary,
  restart_lsn,
  confirmed_flush_lsn,
  catalog_xmin
FROM pg_replication_slots
WHERE slot_name = $1 AND plugin = $2 AND slot_type = 'logical'`

// ReadSlotInfo returns the current server-side state of a slot, or
// InvalidSlot if no logical slot with that name and plugin exists.
func (c *ControlConnection) ReadSlotInfo(ctx context.Context, slotName, plugin string) (SlotInfo, error) {
	var (
		info         SlotInfo
		activePID    sql.NullInt32
		restartLSN   sql.NullString
		confirmedLSN sql.NullString
		catalogXmin  sql.NullInt64
	)

	row := c.pool.QueryRow(ctx, slotInfoQuery, slotName, plugin)
	err := row.Scan(
		&info.SlotName,
		&info.Plugin,
		&info.Database,
		&info.Active,
		&activePID,
		&info.Temporary,
		&restartLSN,
		&confirmedLSN,
		&catalogXmin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InvalidSlot, nil
		}
		return InvalidSlot, fmt.Errorf("read slot info: %w", err)
	}

	info.Valid = true
	if activePID.Valid {
		info.ActivePID = activePID.Int32
	}
	if restartLSN.Valid {
		if lsn, err := ParseLSN(restartLSN.String); err == nil {
			info.RestartLSN = lsn
		}
	}
	if confirmedLSN.Valid {
		lsn, err := ParseLSN(confirmedLSN.String)
		if err == nil {
			info.ConfirmedFlushedLSN = lsn
			info.HasValidFlushedLSN = true
		}
	}
	if catalogXmin.Valid {
		v := catalogXmin.Int64
		info.CatalogXmin = &v
	}

	return info, nil
}

const slotStateQuery = `
SELECT confirmed_flush_lsn, catalog_xmin
FROM pg_replication_slots
WHERE slot_name = $1 AND plugin = $2 AND slot_type = 'logical'`

// CurrentSlotState returns the confirmed-flush position and catalog xmin a
// slot currently reports, for upstream xmin-refresh callers that don't need
// the rest of SlotInfo. It fails with ErrSlotNotFound if the slot was
// dropped out from under the caller.
func (c *ControlConnection) CurrentSlotState(ctx context.Context, slotName, plugin string) (SlotState, error) {
	var (
		confirmedLSN sql.NullString
		catalogXmin  sql.NullInt64
	)

	row := c.pool.QueryRow(ctx, slotStateQuery, slotName, plugin)
	if err := row.Scan(&confirmedLSN, &catalogXmin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SlotState{}, fmt.Errorf("%w: slot %s", ErrSlotNotFound, slotName)
		}
		return SlotState{}, fmt.Errorf("read slot state: %w", err)
	}

	var state SlotState
	if confirmedLSN.Valid {
		lsn, err := ParseLSN(confirmedLSN.String)
		if err == nil {
			state.ConfirmedFlushedLSN = lsn
		}
	}
	if catalogXmin.Valid {
		v := catalogXmin.Int64
		state.CatalogXmin = &v
	}
	return state, nil
}

// CreateLogicalSlot issues the standard (non-temporary) CREATE_REPLICATION_SLOT
// equivalent via pg_create_logical_replication_slot, for cases where the
// slot should outlive this session.
func (c *ControlConnection) CreateLogicalSlot(ctx context.Context, slotName, plugin string) error {
	_, err := c.pool.Exec(ctx, "SELECT pg_create_logical_replication_slot($1, $2)", slotName, plugin)
	if err != nil {
		return fmt.Errorf("create logical slot %s: %w", slotName, err)
	}
	return nil
}

// DropReplicationSlot removes a slot on a best-effort basis. "Does not
// exist" is swallowed silently because drop can race with the server
// tearing the slot down itself (e.g. a temporary slot whose owning backend
// has already disconnected); any other failure is logged and swallowed.
func (c *ControlConnection) DropReplicationSlot(ctx context.Context, slotName string) error {
	_, err := c.pool.Exec(ctx, "SELECT pg_drop_replication_slot($1)", slotName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42704" {
			return nil
		}
		c.logger.Warn("drop replication slot failed", logging.Fields{"slot": slotName, "error": err.Error()})
		return nil
	}
	return nil
}

// ServerMajorVersion returns the server's major version number, used to
// decide whether TEMPORARY slots are supported (Postgres 10+).
func (c *ControlConnection) ServerMajorVersion(ctx context.Context) (int, error) {
	var raw string
	if err := c.pool.QueryRow(ctx, "SHOW server_version_num").Scan(&raw); err != nil {
		return 0, fmt.Errorf("read server_version_num: %w", err)
	}
	versionNum, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse server_version_num %q: %w", raw, err)
	}
	return versionNum / 10000, nil
}
