package replication

import (
	"testing"
	"time"

	"github.com/quillbyte/pgreplicate/internal/logging"
)

func testSession(t *testing.T) *ReplicationSession {
	t.Helper()
	return &ReplicationSession{
		cfg: SessionConfig{
			StatusUpdateInterval: time.Second,
		},
		logger: nil,
	}
}

func TestRecordReceived_Monotonic(t *testing.T) {
	s := newReplicationStream(testSession(t), 0, false)

	if _, ok := s.LastReceivedLsn(); ok {
		t.Fatalf("expected no received LSN before first message")
	}

	s.recordReceived(LSN(100))
	if got, ok := s.LastReceivedLsn(); !ok || got != 100 {
		t.Fatalf("expected lastReceivedLsn=100, got %v ok=%v", got, ok)
	}

	s.recordReceived(LSN(50))
	if got, _ := s.LastReceivedLsn(); got != 100 {
		t.Fatalf("recordReceived must never move backwards, got %v", got)
	}

	s.recordReceived(LSN(250))
	if got, _ := s.LastReceivedLsn(); got != 250 {
		t.Fatalf("expected lastReceivedLsn=250, got %v", got)
	}
}

func TestRecordAck_Monotonic(t *testing.T) {
	s := newReplicationStream(testSession(t), 0, false)
	s.recordAck(LSN(10))
	s.recordAck(LSN(5))
	if got := LSN(s.ackLSN.Load()); got != 10 {
		t.Fatalf("recordAck must never move backwards, got %v", got)
	}
	s.recordAck(LSN(20))
	if got := LSN(s.ackLSN.Load()); got != 20 {
		t.Fatalf("expected ackLSN=20, got %v", got)
	}
}

func TestAckPosition_FallsBackToStartingLsn(t *testing.T) {
	s := newReplicationStream(testSession(t), LSN(42), false)
	if got := s.ackPosition(); got != 42 {
		t.Fatalf("expected ackPosition to fall back to startingLsn=42, got %v", got)
	}

	s.recordReceived(LSN(100))
	if got := s.ackPosition(); got != 100 {
		t.Fatalf("expected ackPosition to prefer lastReceivedLsn=100, got %v", got)
	}

	s.recordAck(LSN(90))
	if got := s.ackPosition(); got != 100 {
		t.Fatalf("ackLSN below lastReceivedLsn must not win, got %v", got)
	}

	s.recordAck(LSN(150))
	if got := s.ackPosition(); got != 150 {
		t.Fatalf("explicit ack above lastReceivedLsn must win, got %v", got)
	}
}

func TestQueueAndDrainWarnings(t *testing.T) {
	s := newReplicationStream(testSession(t), 0, false)
	s.session.logger = noopLoggerForTest{}

	s.queueWarning("slot deprecated")
	s.queueWarning("another notice")
	if len(s.warnings) != 2 {
		t.Fatalf("expected 2 queued warnings, got %d", len(s.warnings))
	}

	s.drainWarnings()
	if len(s.warnings) != 0 {
		t.Fatalf("expected warnings cleared after drain, got %d", len(s.warnings))
	}
}

func TestStatusUpdateDue(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Minute)

	if statusUpdateDue(false, time.Now(), past) {
		t.Fatalf("a disabled status interval must never come due, however stale the deadline")
	}
	if !statusUpdateDue(true, time.Now(), past) {
		t.Fatalf("expected an enabled, expired deadline to be due")
	}
	if statusUpdateDue(true, time.Now(), future) {
		t.Fatalf("expected an enabled, future deadline to not be due yet")
	}
}

func TestReadOnce_StatusUpdateIntervalZero_DoesNotBusyLoop(t *testing.T) {
	s := newReplicationStream(testSessionWithInterval(t, 0), 0, false)

	// With status updates disabled, readOnce must never treat the
	// construction-time deadline as "due" no matter how much time passes.
	if statusUpdateDue(s.session.cfg.StatusUpdateInterval > 0, time.Now().Add(time.Hour), s.nextDeadline()) {
		t.Fatalf("disabled StatusUpdateInterval must never force a status update")
	}
}

func testSessionWithInterval(t *testing.T, interval time.Duration) *ReplicationSession {
	t.Helper()
	return &ReplicationSession{
		cfg: SessionConfig{
			StatusUpdateInterval: interval,
		},
		logger: nil,
	}
}

type noopLoggerForTest struct{}

func (noopLoggerForTest) Debug(string, logging.Fields) {}
func (noopLoggerForTest) Info(string, logging.Fields)  {}
func (noopLoggerForTest) Warn(string, logging.Fields)  {}
func (noopLoggerForTest) Error(string, logging.Fields) {}
