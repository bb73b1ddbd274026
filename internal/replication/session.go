package replication

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quillbyte/pgreplicate/internal/logging"
	"github.com/quillbyte/pgreplicate/internal/postgres"
	"github.com/quillbyte/pgreplicate/internal/telemetry"
)

// postOpenSettleDelay works around a server-side race observed when
// connections churn quickly (e.g. in tests): without it, a status update
// sent immediately after START_REPLICATION can arrive before the server
// has finished registering the new walsender. TODO: remove once that race
// is fixed upstream; tracked as a known issue in the source this behavior
// was carried forward from.
const postOpenSettleDelay = 10 * time.Millisecond

func dialReplicationConn(ctx context.Context, dsn string, iamProvider *postgres.RDSIAMTokenProvider) (*pgconn.PgConn, error) {
	cfg, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse replication dsn: %w", err)
	}
	cfg.RuntimeParams["replication"] = "database"
	if iamProvider != nil {
		if err := iamProvider.ApplyToConnConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("apply rds iam auth: %w", err)
		}
	}

	conn, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return conn, nil
}

// ReplicationSession owns one replication-mode connection plus the control
// connection used to reconcile slot state around it. It is the caller's
// single handle for opening and tearing down a logical replication stream
// against one slot.
type ReplicationSession struct {
	cfg             SessionConfig
	sessionID       string
	control         *ControlConnection
	replConn        *pgconn.PgConn
	logger          logging.Logger
	defaultStartPos LSN
	manager         *SlotManager
	decoder         MessageDecoder

	mu     sync.Mutex
	stream *ReplicationStream
	closed bool
}

// SessionID returns the correlation ID generated for this session at Build
// time. It is the same value attached to every log line this session (and
// everything it constructed — ControlConnection, SlotManager) emits.
func (s *ReplicationSession) SessionID() string {
	return s.sessionID
}

// StartStreaming opens a stream at the session's default starting
// position, as computed by SlotManager.Ensure during Build.
func (s *ReplicationSession) StartStreaming(ctx context.Context) (*ReplicationStream, error) {
	return s.startStreamingAt(ctx, 0)
}

// StartStreamingAt opens a stream at a caller-chosen LSN. A zero value
// falls back to the session's default starting position.
func (s *ReplicationSession) StartStreamingAt(ctx context.Context, requestedLSN LSN) (*ReplicationStream, error) {
	return s.startStreamingAt(ctx, requestedLSN)
}

func (s *ReplicationSession) startStreamingAt(ctx context.Context, requestedLSN LSN) (*ReplicationStream, error) {
	ctx, finish := telemetry.StartSpan(ctx, "pgreplicate", "ReplicationSession.StartStreaming")
	defer func() { finish(nil) }()

	startAt := requestedLSN
	if startAt == 0 {
		startAt = s.defaultStartPos
	}

	containsMetadata, err := s.negotiateAndStart(ctx, startAt)
	if err != nil {
		finish(err)
		return nil, err
	}

	time.Sleep(postOpenSettleDelay)

	stream := newReplicationStream(s, startAt, containsMetadata)
	if s.decoder != nil {
		stream.SetDecoder(s.decoder)
	}
	if err := stream.forceStatusUpdate(ctx); err != nil {
		finish(err)
		return nil, err
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	return stream, nil
}

// negotiateAndStart drives the decoder option negotiation state machine:
// try the optimistic option set once, fall back to the steady-state set on
// an "option is unknown" rejection, and downgrade to metadata-less mode if
// the server still rejects an option or the plugin descriptor (forceRds)
// rules metadata out. A temporary slot is re-reconciled before each retry.
// It returns whether the winning option set requested metadata.
func (s *ReplicationSession) negotiateAndStart(ctx context.Context, startAt LSN) (bool, error) {
	forceDisabled := s.cfg.ForceRDS || (s.decoder != nil && s.decoder.ForceDisableMetadata())
	withMetadata := !forceDisabled
	firstAttempt := true

	for {
		args := s.pluginArgs(withMetadata, firstAttempt)
		firstAttempt = false
		err := pglogrepl.StartReplication(ctx, s.replConn, s.cfg.SlotName, startAt, pglogrepl.StartReplicationOptions{
			PluginArgs: args,
		})
		if err == nil {
			return withMetadata, nil
		}

		if isWalGoneErr(err) {
			return false, fmt.Errorf("%w: %v", ErrWalGone, err)
		}

		if isOptionUnknownErr(err) {
			s.logger.Debug("server rejected try-once startup option, retrying with steady-state options", logging.Fields{"error": err.Error()})
			if s.cfg.TemporarySlot() {
				if _, reErr := s.manager.Ensure(ctx, s.cfg, s.control, s.replConn); reErr != nil {
					return false, reErr
				}
			}
			args = s.pluginArgs(withMetadata, false)
			err = pglogrepl.StartReplication(ctx, s.replConn, s.cfg.SlotName, startAt, pglogrepl.StartReplicationOptions{
				PluginArgs: args,
			})
			if err == nil {
				return withMetadata, nil
			}
		}

		if withMetadata && isOptionUnknownErr(err) {
			s.logger.Warn("downgrading replication stream to metadata-less mode", logging.Fields{"error": err.Error()})
			withMetadata = false
			if s.cfg.TemporarySlot() {
				if _, reErr := s.manager.Ensure(ctx, s.cfg, s.control, s.replConn); reErr != nil {
					return false, reErr
				}
			}
			continue
		}

		if isOptionUnknownErr(err) {
			return false, &OptionRejectedError{Option: strings.Join(args, ", "), Server: err.Error()}
		}
		return false, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
}

func (s *ReplicationSession) pluginArgs(withMetadata, tryOnce bool) []string {
	args := make([]string, 0, len(s.cfg.StreamParams)+1)
	for k, v := range s.cfg.StreamParams {
		args = append(args, fmt.Sprintf("%s '%s'", k, v))
	}

	if s.decoder != nil {
		if withMetadata {
			args = s.decoder.OptionsWithMetadata(args)
		} else {
			args = s.decoder.OptionsWithoutMetadata(args)
		}
		if tryOnce {
			args = s.decoder.TryOnceOptions(args)
		}
		return args
	}

	if withMetadata {
		args = append(args, "include-metadata 'true'")
	}
	return args
}

// Close stops any active stream's keepalive loop, closes both connections,
// and drops the slot if the session was configured to do so. It is
// idempotent.
func (s *ReplicationSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stream := s.stream
	s.mu.Unlock()

	if stream != nil {
		stream.StopKeepAlive()
		_ = stream.Close(ctx, true)
	}

	if s.replConn != nil {
		_ = s.replConn.Close(ctx)
	}

	if s.cfg.DropSlotOnClose {
		if err := s.control.DropReplicationSlot(ctx, s.cfg.SlotName); err != nil {
			s.logger.Warn("drop slot on close failed", logging.Fields{"slot": s.cfg.SlotName, "error": err.Error()})
		}
	}

	s.control.Close()
	return nil
}

func isOptionUnknownErr(err error) bool {
	return containsServerMessage(err, "option") && containsServerMessage(err, "is unknown")
}

func isWalGoneErr(err error) bool {
	return containsServerMessage(err, "requested WAL segment") && containsServerMessage(err, "has already been removed")
}

func containsServerMessage(err error, substr string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), substr)
}
