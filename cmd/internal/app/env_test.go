package app

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("PARLEY_TEST_STR", "  value  ")
	if got := EnvString("PARLEY_TEST_STR", "def"); got != "value" {
		t.Fatalf("got=%q", got)
	}
	if got := EnvString("PARLEY_TEST_STR_MISSING", "def"); got != "def" {
		t.Fatalf("got=%q", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("PARLEY_TEST_BOOL", "true")
	if !EnvBool("PARLEY_TEST_BOOL", false) {
		t.Fatal("true not parsed")
	}
	t.Setenv("PARLEY_TEST_BOOL", "not-a-bool")
	if !EnvBool("PARLEY_TEST_BOOL", true) {
		t.Fatal("garbage must fall back to default")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("PARLEY_TEST_INT", "42")
	if got := EnvInt("PARLEY_TEST_INT", 7); got != 42 {
		t.Fatalf("got=%d", got)
	}
	t.Setenv("PARLEY_TEST_INT", "-5")
	if got := EnvInt("PARLEY_TEST_INT", 7); got != 7 {
		t.Fatalf("negative must fall back: got=%d", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("PARLEY_TEST_DUR", "45s")
	if got := EnvDuration("PARLEY_TEST_DUR", time.Second); got != 45*time.Second {
		t.Fatalf("got=%v", got)
	}
	t.Setenv("PARLEY_TEST_DUR", "0s")
	if got := EnvDuration("PARLEY_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("non-positive must fall back: got=%v", got)
	}
}

func TestEnvCSV(t *testing.T) {
	t.Setenv("PARLEY_TEST_CSV", " a , ,b,c ")
	got := EnvCSV("PARLEY_TEST_CSV", "")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got=%v want=%v", got, want)
		}
	}

	if got := EnvCSV("PARLEY_TEST_CSV_MISSING", "x,y"); len(got) != 2 {
		t.Fatalf("default not applied: %v", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.ChatAddr != "0.0.0.0:8080" {
		t.Fatalf("chat_addr=%q", cfg.ChatAddr)
	}
	if cfg.HTTPAddr != "0.0.0.0:8081" {
		t.Fatalf("http_addr=%q", cfg.HTTPAddr)
	}
	if cfg.ReadIdleTimeout != 30*time.Second {
		t.Fatalf("read_idle=%v", cfg.ReadIdleTimeout)
	}
	if cfg.SendQueueSize != 64 {
		t.Fatalf("send_queue=%d", cfg.SendQueueSize)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("database_url=%q", cfg.DatabaseURL)
	}
	if !cfg.WSOriginRequired {
		t.Fatal("origin check must default on")
	}
}
