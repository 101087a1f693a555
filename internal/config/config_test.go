package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  addr: \":9090\"\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Channel.ResetGrace != 2*time.Second {
		t.Errorf("reset_grace default = %v, want 2s", cfg.Channel.ResetGrace)
	}
	if cfg.Assistant.Provider != "google" {
		t.Errorf("provider default = %q, want google", cfg.Assistant.Provider)
	}
}

func TestParseExpandsEnv(t *testing.T) {
	os.Setenv("OMNIDESK_TEST_KEY", "sk-test")
	defer os.Unsetenv("OMNIDESK_TEST_KEY")

	cfg, err := Parse([]byte("assistant:\n  api_key: ${OMNIDESK_TEST_KEY}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Assistant.APIKey != "sk-test" {
		t.Errorf("api_key = %q, want sk-test", cfg.Assistant.APIKey)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	_, err := Parse([]byte("assistant:\n  provider: cohere\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown assistant provider") {
		t.Fatalf("err = %v, want unknown provider error", err)
	}
}

func TestValidateRejectsInvertedMemoryWindow(t *testing.T) {
	_, err := Parse([]byte("assistant:\n  memory_limit: 100\n  memory_keep: 200\n"))
	if err == nil {
		t.Fatal("expected error for memory_keep >= memory_limit")
	}
}
