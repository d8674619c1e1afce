package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.RecoveryQueryLimit != 3 || cfg.RecoveryChannelLimit != 30 {
		t.Errorf("unexpected recovery bounds: %d/%d", cfg.RecoveryQueryLimit, cfg.RecoveryChannelLimit)
	}
	if cfg.TypingExpiry != 5*time.Second {
		t.Errorf("unexpected typing expiry: %v", cfg.TypingExpiry)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("CHATSYNC_DB", "/tmp/custom.db")
	t.Setenv("CHATSYNC_TYPING_EXPIRY", "8s")
	t.Setenv("CHATSYNC_RECOVERY_QUERY_LIMIT", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBFile != "/tmp/custom.db" {
		t.Errorf("DBFile = %s", cfg.DBFile)
	}
	if cfg.TypingExpiry != 8*time.Second {
		t.Errorf("TypingExpiry = %v", cfg.TypingExpiry)
	}
	if cfg.RecoveryQueryLimit != 5 {
		t.Errorf("RecoveryQueryLimit = %d", cfg.RecoveryQueryLimit)
	}
	// Untouched keys keep defaults.
	if cfg.RecoveryChannelLimit != 30 {
		t.Errorf("RecoveryChannelLimit = %d", cfg.RecoveryChannelLimit)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("CHATSYNC_TYPING_EXPIRY", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.RecoveryQueryLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero query limit")
	}

	cfg = Default()
	cfg.CleanInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero clean interval")
	}

	cfg = Default()
	cfg.DBFile = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty db file")
	}
}
