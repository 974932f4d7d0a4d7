package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_OverridesDefaults(t *testing.T) {
	c := Default()
	dir := t.TempDir()
	path := filepath.Join(dir, "q2srv.yaml")
	if err := os.WriteFile(path, []byte("hostname: myserver\nmax_clients: 32\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadFile(&c, path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Hostname != "myserver" || c.MaxClients != 32 {
		t.Fatalf("got %+v", c)
	}
	// Untouched fields keep their defaults.
	if c.ListenAddr != ":27910" {
		t.Fatalf("ListenAddr was clobbered: %s", c.ListenAddr)
	}
}

func TestLoadFile_MissingFileIsNotAnError(t *testing.T) {
	c := Default()
	if err := LoadFile(&c, filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("expected nil error for missing file, got %v", err)
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("Q2SRV_HOSTNAME", "envhost")
	t.Setenv("Q2SRV_MAX_CLIENTS", "8")

	c := Default()
	if err := ApplyEnv(&c); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if c.Hostname != "envhost" || c.MaxClients != 8 {
		t.Fatalf("got %+v", c)
	}
}

func TestValidate_RejectsOutOfRangeMaxClients(t *testing.T) {
	c := Default()
	c.MaxClients = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for max_clients=0")
	}
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	c := Default()
	c.LogLevel = "verbose"
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
}

func TestHashAndCheckPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "hunter2") {
		t.Fatal("expected matching password to validate")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatal("expected wrong password to fail")
	}
}
