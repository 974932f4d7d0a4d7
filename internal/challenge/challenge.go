// Package challenge implements the getchallenge/connect handshake token
// table: a small bounded table of outstanding challenge values, keyed by
// peer address, that a connecting client must echo back before a session
// is created.
package challenge

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/quakecore/q2srv/internal/addr"
)

// MaxChallenges bounds the table at exactly 1024 entries, matching R1Q2.
// Once full, the oldest entry is overwritten regardless of whether it was
// ever consumed.
const MaxChallenges = 1024

// TTL is how long an issued challenge remains valid for consumption.
const TTL = 3 * time.Minute

type entry struct {
	key     string
	value   int32
	issued  time.Time
	used    bool
	present bool
}

// Table is a fixed-capacity ring of outstanding challenges. Safe for
// concurrent use.
type Table struct {
	mu    sync.Mutex
	ring  [MaxChallenges]entry
	byKey map[string]int
	next  int
}

// New returns an empty challenge table.
func New() *Table {
	return &Table{byKey: make(map[string]int, MaxChallenges)}
}

// Issue mints a new challenge for addr, replacing any existing one for the
// same base address (address ignoring port, per R1Q2's getchallenge). If the
// table is at capacity and addr has no existing slot, the oldest slot is
// evicted.
func (t *Table) Issue(a addr.Address) int32 {
	key := a.BaseKey()
	val := randomChallenge()

	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.byKey[key]; ok {
		t.ring[idx] = entry{key: key, value: val, issued: monoNow(), present: true}
		return val
	}

	idx := t.next
	t.next = (t.next + 1) % MaxChallenges
	if old := t.ring[idx]; old.present {
		delete(t.byKey, old.key)
	}
	t.ring[idx] = entry{key: key, value: val, issued: monoNow(), present: true}
	t.byKey[key] = idx
	return val
}

// Consume validates and burns the challenge for addr. It returns false if no
// challenge is outstanding, the value does not match, it already expired, or
// it was already consumed — a challenge is usable exactly once.
func (t *Table) Consume(a addr.Address, value int32) bool {
	key := a.BaseKey()

	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.byKey[key]
	if !ok {
		return false
	}
	e := t.ring[idx]
	if !e.present || e.used || e.value != value {
		return false
	}
	if monoNow().Sub(e.issued) > TTL {
		return false
	}
	e.used = true
	t.ring[idx] = e
	return true
}

// Len reports the number of live (non-evicted) entries, for diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byKey)
}

func randomChallenge() int32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	v := int32(binary.LittleEndian.Uint32(b[:]))
	if v < 0 {
		v = -v
	}
	return v
}

// monoNow is split out so tests can't accidentally depend on wall-clock
// jitter across a TTL boundary; production always uses time.Now.
var monoNow = time.Now
