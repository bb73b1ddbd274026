package replication

import "testing"

func TestMinLSN(t *testing.T) {
	if got := minLSN(LSN(10), LSN(20)); got != 10 {
		t.Fatalf("minLSN(10,20) = %v, want 10", got)
	}
	if got := minLSN(LSN(20), LSN(10)); got != 10 {
		t.Fatalf("minLSN(20,10) = %v, want 10", got)
	}
	if got := minLSN(LSN(5), LSN(5)); got != 5 {
		t.Fatalf("minLSN(5,5) = %v, want 5", got)
	}
}

func TestTemporarySlotDerivation(t *testing.T) {
	cfg := SessionConfig{DropSlotOnClose: true, serverMajorVersion: 10}
	if !cfg.TemporarySlot() {
		t.Fatalf("expected temporary slot on pg10 with dropSlotOnClose")
	}

	cfg.serverMajorVersion = 9
	if cfg.TemporarySlot() {
		t.Fatalf("expected no temporary slot support on pg9")
	}

	cfg.DropSlotOnClose = false
	cfg.serverMajorVersion = 14
	if cfg.TemporarySlot() {
		t.Fatalf("expected no temporary slot when dropSlotOnClose is false")
	}
}
