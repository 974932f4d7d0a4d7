package client

import (
	"testing"
	"time"

	"github.com/quakecore/q2srv/internal/addr"
)

func mustAddr(t *testing.T, s string) addr.Address {
	t.Helper()
	a, err := addr.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func TestTable_AddGetRemove(t *testing.T) {
	tbl := NewTable(0)
	a := mustAddr(t, "10.0.0.1:27901")

	c, ok := tbl.Add(a)
	if !ok {
		t.Fatal("expected Add to succeed")
	}
	if c.State != StateFree {
		t.Fatalf("new client state = %s, want free", c.State)
	}

	got, ok := tbl.Get(a)
	if !ok || got != c {
		t.Fatal("Get did not return the added client")
	}

	tbl.Remove(c)
	if _, ok := tbl.Get(a); ok {
		t.Fatal("client still present after Remove")
	}
	if tbl.Count() != 0 {
		t.Fatalf("count = %d, want 0", tbl.Count())
	}
}

func TestTable_RejectsOverCapacity(t *testing.T) {
	tbl := NewTable(1)
	a1 := mustAddr(t, "10.0.0.1:1")
	a2 := mustAddr(t, "10.0.0.2:1")

	if _, ok := tbl.Add(a1); !ok {
		t.Fatal("first Add should succeed")
	}
	if _, ok := tbl.Add(a2); ok {
		t.Fatal("second Add should be rejected at capacity 1")
	}
}

func TestClient_QueueAndDrain(t *testing.T) {
	c := NewClient(1, mustAddr(t, "10.0.0.1:1"))

	if !c.QueueReliable([]byte("hello")) {
		t.Fatal("QueueReliable should succeed")
	}
	if !c.QueueUnreliable([]byte("world")) {
		t.Fatal("QueueUnreliable should succeed")
	}

	rel := c.DrainReliable()
	if len(rel) != 1 || string(rel[0]) != "hello" {
		t.Fatalf("DrainReliable = %v", rel)
	}
	if len(c.DrainReliable()) != 0 {
		t.Fatal("second DrainReliable should be empty")
	}

	unrel := c.DrainUnreliable()
	if len(unrel) != 1 || string(unrel[0]) != "world" {
		t.Fatalf("DrainUnreliable = %v", unrel)
	}
}

func TestClient_QueueAfterCloseFails(t *testing.T) {
	c := NewClient(1, mustAddr(t, "10.0.0.1:1"))
	c.Close()
	if c.QueueReliable([]byte("x")) {
		t.Fatal("QueueReliable should fail after Close")
	}
}

func TestClient_RateWindowSumsAcrossTicks(t *testing.T) {
	c := NewClient(1, mustAddr(t, "10.0.0.1:1"))
	for i := 0; i < RateMessages+2; i++ {
		c.RecordSent(100)
	}
	// The window only remembers the last RateMessages samples.
	if got := c.RateWindowBytes(); got != 100*RateMessages {
		t.Fatalf("RateWindowBytes = %d, want %d", got, 100*RateMessages)
	}
}

func TestClient_DrainReliableChunk_CoalescesUpToLimit(t *testing.T) {
	c := NewClient(1, mustAddr(t, "10.0.0.1:1"))
	big := make([]byte, MaxReliableChunk-10)
	c.QueueReliable(big)
	c.QueueReliable([]byte("small-one"))
	c.QueueReliable([]byte("small-two"))

	first := c.DrainReliableChunk()
	if len(first) != len(big)+len("small-one") {
		t.Fatalf("first chunk len = %d, want %d", len(first), len(big)+len("small-one"))
	}
	second := c.DrainReliableChunk()
	if string(second) != "small-two" {
		t.Fatalf("second chunk = %q, want leftover message", second)
	}
	if len(c.DrainReliableChunk()) != 0 {
		t.Fatal("expected queue drained after two chunks")
	}
}

func TestClient_RecordPingAverages(t *testing.T) {
	c := NewClient(1, mustAddr(t, "10.0.0.1:1"))
	for i := 0; i < pingSamples; i++ {
		c.RecordPing(100 * time.Millisecond)
	}
	if c.Ping != 100*time.Millisecond {
		t.Fatalf("Ping = %v, want 100ms once the ring is full of identical samples", c.Ping)
	}
}

func TestClient_ReliableQueueBounded(t *testing.T) {
	c := NewClient(1, mustAddr(t, "10.0.0.1:1"))
	for i := 0; i < maxMsgListSize; i++ {
		if !c.QueueReliable([]byte{byte(i)}) {
			t.Fatalf("QueueReliable failed before reaching capacity at i=%d", i)
		}
	}
	if c.QueueReliable([]byte("overflow")) {
		t.Fatal("expected QueueReliable to reject once at capacity")
	}
}
