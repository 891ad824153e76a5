package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("BBS_TRANSFER_CODE_TTL_SECONDS", "")
	t.Setenv("VAPID_PUBLIC_KEY", "")
	t.Setenv("VAPID_PRIVATE_KEY", "")

	cfg := Load()
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.TransferCodeTTL != 10*time.Minute {
		t.Fatalf("TransferCodeTTL = %v", cfg.TransferCodeTTL)
	}
	if cfg.InviteTTL != 24*time.Hour {
		t.Fatalf("InviteTTL = %v", cfg.InviteTTL)
	}
	if cfg.PushConfigured() {
		t.Fatal("push should not be configured without VAPID keys")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("BBS_SUMMARY_RPS", "0.5")
	t.Setenv("BBS_INVITE_TTL_SECONDS", "not-a-number")
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")

	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.SummaryRPS != 0.5 {
		t.Fatalf("SummaryRPS = %v", cfg.SummaryRPS)
	}
	if cfg.InviteTTL != 24*time.Hour {
		t.Fatalf("invalid value should fall back, got %v", cfg.InviteTTL)
	}
	if !cfg.PushConfigured() {
		t.Fatal("push should be configured")
	}
}

func TestLoadClientPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("BBS_HOME", home)
	cfg := LoadClient()
	if cfg.IdentityPath() != filepath.Join(home, "identity") {
		t.Fatalf("IdentityPath = %q", cfg.IdentityPath())
	}
	if cfg.CacheDir() != filepath.Join(home, "cache") {
		t.Fatalf("CacheDir = %q", cfg.CacheDir())
	}
}
