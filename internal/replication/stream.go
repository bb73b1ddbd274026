package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/quillbyte/pgreplicate/internal/logging"
	"github.com/quillbyte/pgreplicate/internal/telemetry"
)

// warningDrainInterval is how often, in successful reads, the stream drains
// and logs any server-side warnings that have accumulated.
const warningDrainInterval = 100

// ReplicationStream is a live handle onto one open logical replication
// stream. It is created by ReplicationSession.StartStreaming and is not
// safe to use after Close.
type ReplicationStream struct {
	session          *ReplicationSession
	startingLsn      LSN
	containsMetadata bool
	decoder          MessageDecoder

	lastReceivedLsn atomic.Uint64
	hasReceived     atomic.Bool
	ackLSN          atomic.Uint64
	reads           atomic.Uint64

	statusMu           sync.Mutex
	nextStatusDeadline time.Time

	warningsMu sync.Mutex
	warnings   []string

	keepalive *keepaliveLoop
	closed    atomic.Bool
}

func newReplicationStream(session *ReplicationSession, startingLsn LSN, containsMetadata bool) *ReplicationStream {
	return &ReplicationStream{
		session:            session,
		startingLsn:        startingLsn,
		containsMetadata:   containsMetadata,
		nextStatusDeadline: time.Now().Add(session.cfg.StatusUpdateInterval),
	}
}

// SetDecoder installs the MessageDecoder used to turn XLogData payloads
// into DecodedMessage values. A stream with no decoder still drains
// keepalives and status updates correctly; Read simply has nothing to
// deliver to processor.
func (r *ReplicationStream) SetDecoder(decoder MessageDecoder) {
	decoder.SetContainsMetadata(r.containsMetadata)
	r.decoder = decoder
}

// Read blocks until the next XLogData payload at an LSN strictly greater
// than startingLsn has been passed through the decoder to processor, or ctx
// is cancelled. The decoder may deliver zero or more messages for that
// payload (a pgoutput Relation frame, for example, delivers none).
func (r *ReplicationStream) Read(ctx context.Context, processor MessageProcessor) error {
	ctx, finish := telemetry.StartSpan(ctx, "pgreplicate", "ReplicationStream.Read")
	defer func() { finish(nil) }()

	if err := r.checkOpen(); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			finish(err)
			return err
		}

		delivered, err := r.readOnce(ctx, processor, true)
		if err != nil {
			finish(err)
			return err
		}
		if delivered {
			return nil
		}
	}
}

// ReadPending performs a single non-blocking check for an already
// available message. It returns false, nil when nothing is ready yet.
func (r *ReplicationStream) ReadPending(ctx context.Context, processor MessageProcessor) (bool, error) {
	if err := r.checkOpen(); err != nil {
		return false, err
	}
	return r.readOnce(ctx, processor, false)
}

// readOnce drives exactly one protocol exchange: possibly sending a status
// update, then waiting for (or polling for, if !blocking) the next frame.
// It returns true once an XLogData payload past startingLsn has been handed
// to the decoder without error, whether or not the decoder delivered any
// DecodedMessage to processor for it.
func (r *ReplicationStream) readOnce(ctx context.Context, processor MessageProcessor, blocking bool) (bool, error) {
	conn := r.session.replConn

	// StatusUpdateInterval<=0 disables periodic status forcing entirely,
	// the same sentinel keepaliveLoop.loop honors. Without this guard a
	// disabled interval pins nextStatusDeadline in the past forever, and
	// every blocking Read call would force a status update and then poll
	// with an already-expired deadline instead of actually waiting.
	statusUpdatesEnabled := r.session.cfg.StatusUpdateInterval > 0
	if statusUpdateDue(statusUpdatesEnabled, time.Now(), r.nextDeadline()) {
		if err := r.forceStatusUpdate(ctx); err != nil {
			return false, err
		}
	}

	var (
		recvCtx context.Context
		cancel  context.CancelFunc
	)
	switch {
	case !blocking:
		recvCtx, cancel = context.WithDeadline(ctx, time.Now())
	case statusUpdatesEnabled:
		recvCtx, cancel = context.WithDeadline(ctx, r.nextDeadline())
	default:
		recvCtx, cancel = context.WithCancel(ctx)
	}
	rawMsg, err := conn.ReceiveMessage(recvCtx)
	cancel()
	if err != nil {
		if pgconn.Timeout(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
		return false, fmt.Errorf("%w: %s", ErrConnectionLost, errMsg.Message)
	}

	if notice, ok := rawMsg.(*pgproto3.NoticeResponse); ok {
		r.queueWarning(notice.Message)
		return false, nil
	}

	copyData, ok := rawMsg.(*pgproto3.CopyData)
	if !ok || len(copyData.Data) == 0 {
		return false, nil
	}

	switch copyData.Data[0] {
	case pglogrepl.PrimaryKeepaliveMessageByteID:
		pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
		if err != nil {
			return false, fmt.Errorf("%w: parse keepalive: %v", ErrConnectionLost, err)
		}
		if pkm.ReplyRequested {
			r.statusMu.Lock()
			r.nextStatusDeadline = time.Time{}
			r.statusMu.Unlock()
		}
		return false, nil

	case pglogrepl.XLogDataByteID:
		xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
		if err != nil {
			return false, fmt.Errorf("%w: parse xlogdata: %v", ErrConnectionLost, err)
		}

		r.recordReceived(xld.WALStart)
		if r.reads.Add(1)%warningDrainInterval == 0 {
			r.drainWarnings()
		}

		if xld.WALStart <= r.startingLsn {
			return false, nil
		}
		if r.decoder == nil || processor == nil {
			return false, nil
		}
		if err := r.decoder.ProcessMessage(ctx, xld.WALStart, xld.WALData, processor); err != nil {
			return false, err
		}
		return true, nil

	default:
		return false, nil
	}
}

func (r *ReplicationStream) recordReceived(lsn LSN) {
	for {
		cur := r.lastReceivedLsn.Load()
		if uint64(lsn) <= cur && r.hasReceived.Load() {
			return
		}
		if r.lastReceivedLsn.CompareAndSwap(cur, uint64(lsn)) {
			r.hasReceived.Store(true)
			return
		}
	}
}

// LastReceivedLsn returns the highest LSN observed from the server so far.
// The second return value is false before the first message has arrived.
func (r *ReplicationStream) LastReceivedLsn() (LSN, bool) {
	if !r.hasReceived.Load() {
		return 0, false
	}
	return LSN(r.lastReceivedLsn.Load()), true
}

// FlushLsn records lsn as both applied and flushed and forces an immediate
// status update so the server advances the slot's retention horizon
// without waiting for the next periodic keepalive.
func (r *ReplicationStream) FlushLsn(ctx context.Context, lsn LSN) error {
	r.recordAck(lsn)
	return r.forceStatusUpdate(ctx)
}

func (r *ReplicationStream) recordAck(lsn LSN) {
	for {
		cur := r.ackLSN.Load()
		if uint64(lsn) <= cur {
			return
		}
		if r.ackLSN.CompareAndSwap(cur, uint64(lsn)) {
			return
		}
	}
}

// statusUpdateDue reports whether readOnce should force a status update
// before waiting for the next frame. Disabled intervals never come due,
// regardless of how stale deadline has become.
func statusUpdateDue(enabled bool, now, deadline time.Time) bool {
	return enabled && now.After(deadline)
}

func (r *ReplicationStream) nextDeadline() time.Time {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.nextStatusDeadline
}

func (r *ReplicationStream) ackPosition() LSN {
	ack := LSN(r.ackLSN.Load())
	if ack > 0 {
		return ack
	}
	if last, ok := r.LastReceivedLsn(); ok {
		return last
	}
	return r.startingLsn
}

func (r *ReplicationStream) forceStatusUpdate(ctx context.Context) error {
	pos := r.ackPosition()
	err := pglogrepl.SendStandbyStatusUpdate(ctx, r.session.replConn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: pos,
		WALFlushPosition: pos,
		WALApplyPosition: pos,
	})
	if err != nil {
		return fmt.Errorf("%w: send standby status update: %v", ErrConnectionLost, err)
	}

	r.statusMu.Lock()
	r.nextStatusDeadline = time.Now().Add(r.session.cfg.StatusUpdateInterval)
	r.statusMu.Unlock()
	return nil
}

func (r *ReplicationStream) queueWarning(message string) {
	r.warningsMu.Lock()
	r.warnings = append(r.warnings, message)
	r.warningsMu.Unlock()
}

// drainWarnings logs and clears any server NoticeResponse messages queued
// since the last drain.
func (r *ReplicationStream) drainWarnings() {
	r.warningsMu.Lock()
	pending := r.warnings
	r.warnings = nil
	r.warningsMu.Unlock()

	for _, notice := range pending {
		r.session.logger.Debug("server warning", logging.Fields{"notice": notice})
	}
}

// StartKeepAlive starts a background keepalive loop on executor, which
// runs the given function (typically as a goroutine). A second call while
// one is already running is a no-op.
func (r *ReplicationStream) StartKeepAlive(executor func(func()), onError func(error)) {
	if r.keepalive != nil && r.keepalive.isRunning() {
		return
	}
	r.keepalive = newKeepaliveLoop(r, onError)
	r.keepalive.start(executor)
}

// StopKeepAlive stops the keepalive loop if one is running. A second call
// is a no-op.
func (r *ReplicationStream) StopKeepAlive() {
	if r.keepalive != nil {
		r.keepalive.stop()
	}
}

// Close stops the keepalive loop and further use of the stream. When
// forceDrainWarnings is true it first logs and clears any pending server
// warnings; otherwise warnings still queued are not logged. It does not
// drop the slot; that is ReplicationSession.Close's responsibility.
func (r *ReplicationStream) Close(ctx context.Context, forceDrainWarnings bool) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.StopKeepAlive()
	if forceDrainWarnings {
		r.drainWarnings()
	}
	return nil
}

var errStreamClosed = errors.New("replication stream is closed")

func (r *ReplicationStream) checkOpen() error {
	if r.closed.Load() {
		return fmt.Errorf("%w", errStreamClosed)
	}
	return nil
}
