package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "q2srv.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBanCommand_PersistsAndQueries(t *testing.T) {
	s := openTestStore(t)
	if s.IsBannedCommand("kick") {
		t.Fatal("kick should not be banned yet")
	}
	if err := s.BanCommand("kick"); err != nil {
		t.Fatalf("BanCommand: %v", err)
	}
	if !s.IsBannedCommand("kick") {
		t.Fatal("expected kick to be banned after BanCommand")
	}
}

func TestBanCvar_PersistsAndQueries(t *testing.T) {
	s := openTestStore(t)
	if err := s.BanCvar("rate"); err != nil {
		t.Fatalf("BanCvar: %v", err)
	}
	if !s.IsBannedCvar("rate") {
		t.Fatal("expected rate to be banned")
	}
}

func TestLogRconAttempt_DoesNotError(t *testing.T) {
	s := openTestStore(t)
	if err := s.LogRconAttempt("10.0.0.1:1234", false); err != nil {
		t.Fatalf("LogRconAttempt: %v", err)
	}
}

func TestLogSessionDrop_DoesNotError(t *testing.T) {
	s := openTestStore(t)
	if err := s.LogSessionDrop(1, "10.0.0.1:1234", "exploit"); err != nil {
		t.Fatalf("LogSessionDrop: %v", err)
	}
}

func TestReloadAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q2srv.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.BanCommand("god"); err != nil {
		t.Fatalf("BanCommand: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if !s2.IsBannedCommand("god") {
		t.Fatal("expected ban to persist across reopen")
	}
}
