package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GRPCAddr() != "0.0.0.0:50051" {
		t.Fatalf("GRPCAddr() = %q", cfg.GRPCAddr())
	}
	if cfg.StoreDriver != "postgres" || cfg.SlotGranularity != 30*time.Minute || cfg.MaxOccurrences != 52 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.WaitlistExpiry != 7*24*time.Hour || cfg.Timezone != time.UTC {
		t.Fatalf("unexpected waitlist/timezone defaults: %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SALONBOOK_GRPC_ADDR", "127.0.0.1:6000")
	t.Setenv("SALONBOOK_STORE_DRIVER", "memory")
	t.Setenv("SALONBOOK_WAITLIST_MODE", "Offer")
	t.Setenv("SALONBOOK_SCHEDULE_SLOT_GRANULARITY", "15m")
	t.Setenv("SALONBOOK_SCHEDULE_TIMEZONE", "Europe/Paris")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GRPCHost != "127.0.0.1" || cfg.GRPCPort != 6000 {
		t.Fatalf("addr = %s:%d", cfg.GRPCHost, cfg.GRPCPort)
	}
	if cfg.StoreDriver != "memory" || cfg.WaitlistMode != "offer" || cfg.SlotGranularity != 15*time.Minute {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Timezone.String() != "Europe/Paris" {
		t.Fatalf("timezone = %s", cfg.Timezone)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"duration", "SALONBOOK_WAITLIST_SWEEP_INTERVAL", "often"},
		{"driver", "SALONBOOK_STORE_DRIVER", "sqlite"},
		{"timezone", "SALONBOOK_SCHEDULE_TIMEZONE", "Mars/Olympus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "salonbook.yaml")
	body := []byte("store:\n  driver: memory\ncatalog:\n  services:\n    cut: 30\n    color: 90\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreDriver != "memory" {
		t.Fatalf("driver = %q", cfg.StoreDriver)
	}
	if cfg.Services["cut"] != 30 || cfg.Services["color"] != 90 {
		t.Fatalf("services = %v", cfg.Services)
	}
}
