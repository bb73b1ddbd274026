package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Replication.Plugin != "pgoutput" {
		t.Fatalf("expected default plugin pgoutput, got %q", cfg.Replication.Plugin)
	}
	if cfg.Replication.StatusUpdateInterval.Seconds() != 10 {
		t.Fatalf("expected default status interval 10s, got %v", cfg.Replication.StatusUpdateInterval)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PGREPLICATE_POSTGRES_DSN", "postgres://demo")
	t.Setenv("PGREPLICATE_REPLICATION_SLOT_NAME", "custom_slot")
	t.Setenv("PGREPLICATE_REPLICATION_DROP_SLOT_ON_CLOSE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://demo" {
		t.Fatalf("expected dsn override, got %q", cfg.Postgres.DSN)
	}
	if cfg.Replication.SlotName != "custom_slot" {
		t.Fatalf("expected slot name override, got %q", cfg.Replication.SlotName)
	}
	if !cfg.Replication.DropSlotOnClose {
		t.Fatalf("expected drop_slot_on_close override to be true")
	}
}
