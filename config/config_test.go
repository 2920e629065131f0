package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.DataDir != "data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.ParamDir == "" {
		t.Error("ParamDir default not derived")
	}
	if cfg.WaitTime != 100*time.Millisecond {
		t.Errorf("WaitTime = %v", cfg.WaitTime)
	}
	if cfg.JoinTimeout != 2*time.Second {
		t.Errorf("JoinTimeout = %v", cfg.JoinTimeout)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ISCPIPE_DATA_DIR", "/tmp/isc")
	t.Setenv("ISCPIPE_WAIT_TIME", "250ms")
	t.Setenv("ISCPIPE_RING_SLOTS", "16")
	cfg := Load()
	if cfg.DataDir != "/tmp/isc" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.WaitTime != 250*time.Millisecond {
		t.Errorf("WaitTime = %v", cfg.WaitTime)
	}
	if cfg.RingSlots != 16 {
		t.Errorf("RingSlots = %d", cfg.RingSlots)
	}
	if cfg.ParamDir != "/tmp/isc/parameters" {
		t.Errorf("ParamDir = %q", cfg.ParamDir)
	}
}
