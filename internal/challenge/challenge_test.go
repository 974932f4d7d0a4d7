package challenge

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

func TestIssueThenConsume(t *testing.T) {
	tbl := New()
	a := mustAddr(t, "10.0.0.1:27901")
	val := tbl.Issue(a)

	if !tbl.Consume(a, val) {
		t.Fatal("expected consume to succeed with the issued value")
	}
}

func TestConsume_WrongValueFails(t *testing.T) {
	tbl := New()
	a := mustAddr(t, "10.0.0.1:27901")
	tbl.Issue(a)

	if tbl.Consume(a, 123456789) {
		t.Fatal("expected consume to fail with a wrong value")
	}
}

func TestConsume_SingleUse(t *testing.T) {
	tbl := New()
	a := mustAddr(t, "10.0.0.1:27901")
	val := tbl.Issue(a)

	if !tbl.Consume(a, val) {
		t.Fatal("first consume should succeed")
	}
	if tbl.Consume(a, val) {
		t.Fatal("second consume of the same challenge must fail")
	}
}

func TestIssue_ReplacesExistingForSameBaseAddress(t *testing.T) {
	tbl := New()
	a1 := mustAddr(t, "10.0.0.1:27901")
	a2 := mustAddr(t, "10.0.0.1:27902") // same IP, different port -> same BaseKey

	first := tbl.Issue(a1)
	second := tbl.Issue(a2)

	if tbl.Len() != 1 {
		t.Fatalf("expected 1 live entry for the shared base address, got %d", tbl.Len())
	}
	if tbl.Consume(a1, first) {
		t.Fatal("stale challenge should no longer validate after reissue")
	}
	if !tbl.Consume(a2, second) {
		t.Fatal("reissued challenge should validate")
	}
}

func TestIssue_EvictsOldestWhenFull(t *testing.T) {
	tbl := New()
	first := mustAddr(t, "10.0.0.1:1")
	firstVal := tbl.Issue(first)

	for i := 0; i < MaxChallenges; i++ {
		a := addr.Address{Kind: addr.KindIP, Octet: [4]byte{10, 1, byte(i >> 8), byte(i)}, Port: 27901}
		tbl.Issue(a)
	}

	if tbl.Consume(first, firstVal) {
		t.Fatal("oldest entry should have been evicted once the table wrapped")
	}
}

func TestConsume_ExpiresAfterTTL(t *testing.T) {
	real := monoNow
	defer func() { monoNow = real }()

	tbl := New()
	a := mustAddr(t, "10.0.0.1:27901")
	val := tbl.Issue(a)

	future := time.Now().Add(TTL + time.Second)
	monoNow = func() time.Time { return future }

	if tbl.Consume(a, val) {
		t.Fatal("expected challenge to expire after TTL")
	}
}
