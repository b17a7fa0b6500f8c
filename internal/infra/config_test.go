package infra

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("WEBHOOK_SECRET", "hook-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("WEBHOOK_CALLBACK_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WebhookCallbackURL != "http://localhost:8080/v1/webhooks/generation" {
		t.Fatalf("WebhookCallbackURL mismatch: %q", cfg.WebhookCallbackURL)
	}
	if cfg.GeneratedFolder != "nero/generated" {
		t.Fatalf("GeneratedFolder mismatch: %q", cfg.GeneratedFolder)
	}
	if cfg.ClaimTTL != 2*time.Minute {
		t.Fatalf("ClaimTTL mismatch: %s", cfg.ClaimTTL)
	}
	if cfg.SettleWait != 30*time.Second {
		t.Fatalf("SettleWait mismatch: %s", cfg.SettleWait)
	}
	if cfg.TaskTTL != 24*time.Hour {
		t.Fatalf("TaskTTL mismatch: %s", cfg.TaskTTL)
	}
}

func TestLoadConfigInheritsPortInCallbackURL(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "1919")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("WEBHOOK_CALLBACK_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WebhookCallbackURL != "http://localhost:1919/v1/webhooks/generation" {
		t.Fatalf("WebhookCallbackURL mismatch: %q", cfg.WebhookCallbackURL)
	}
}

func TestLoadConfigRequiresWebhookSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("WEBHOOK_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when WEBHOOK_SECRET missing")
	}
}

func TestLoadConfigMemoryDriverSkipsDatabaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", StoreDriverMemory)

	if _, err := LoadConfig(); err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" http://a.test , ,http://b.test")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Fatalf("splitList mismatch: %#v", got)
	}
}
