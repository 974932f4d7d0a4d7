package gamerules

import "testing"

func TestStub_ConnectAlwaysAccepts(t *testing.T) {
	s := NewStub(256)
	res := s.ClientConnect(1, map[string]string{"name": "player"})
	if !res.Accepted {
		t.Fatal("expected stub to accept every connection")
	}
}

func TestStub_FullVisibilityEveryByteSet(t *testing.T) {
	s := NewStub(64)
	pvs := s.ClusterPVS(0)
	for i, b := range pvs {
		if b != 0xFF {
			t.Fatalf("byte %d = %#x, want 0xFF", i, b)
		}
	}
}

func TestStub_AreasAlwaysConnected(t *testing.T) {
	s := NewStub(8)
	if !s.AreasConnected(3, 9) {
		t.Fatal("expected stub to report all areas connected")
	}
}

func TestStub_HandshakeDataIsEmpty(t *testing.T) {
	s := NewStub(8)
	if s.LevelName() != "" {
		t.Fatalf("expected empty level name, got %q", s.LevelName())
	}
	if len(s.ConfigStrings()) != 0 {
		t.Fatal("expected no configstrings without a loaded map")
	}
	if len(s.Baselines()) != 0 {
		t.Fatal("expected no baselines without any spawned entities")
	}
	if len(s.Entities()) != 0 {
		t.Fatal("expected no live entities without any spawned entities")
	}
	if s.LeafArea(0) != 0 {
		t.Fatalf("expected leaf area 0, got %d", s.LeafArea(0))
	}
}
