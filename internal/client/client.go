// Package client implements the per-connection session state machine and
// the bounded client table that owns it: Add/Remove/Snapshot with
// backpressure, plus the two-queue (reliable + unreliable) message list a
// netchan peer needs.
package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quakecore/q2srv/internal/addr"
	"github.com/quakecore/q2srv/internal/logging"
	"github.com/quakecore/q2srv/internal/metrics"
)

// State is a client session's connection lifecycle.
type State int

const (
	StateFree State = iota
	StateConnected
	StateSpawning
	StateSpawned
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateConnected:
		return "connected"
	case StateSpawning:
		return "spawning"
	case StateSpawned:
		return "spawned"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// BackpressurePolicy selects what happens when a client's reliable queue is
// full: drop the newest message, or kick the client outright.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// maxMsgListSize bounds the reliable/unreliable message lists per client,
// mirroring R1Q2's MAX_MSGLEN-driven queue caps.
const maxMsgListSize = 256

// MaxReliableChunk bounds how many queued reliable messages are coalesced
// into a single netchan reliable payload per tick, mirroring R1Q2's
// MAX_USABLEMSG budget for a spawn handshake's burst of svc_serverdata/
// svc_configstring/svc_spawnbaseline messages.
const MaxReliableChunk = 1300

// RateMessages is the width of the sliding window the rate ceiling sums
// bytes-sent over, matching R1Q2's RATE_MESSAGES.
const RateMessages = 10

// pingSamples is the width of the ring buffer averaged into Client.Ping.
const pingSamples = 8

// Download tracks an in-flight file transfer to this client.
type Download struct {
	SessionID uuid.UUID
	Name      string
	Offset    int
	Size      int
}

// Client is one connected peer's session state.
type Client struct {
	ID       uint64
	Addr     addr.Address
	QPort    uint16
	State    State
	UserInfo map[string]string
	Name     string

	Challenge int32

	LastMessage time.Time
	LastCmdTime time.Time
	MsecBudget  float64 // remaining per-tick usercmd.msec budget (sv_msecs)
	Overflow    float64 // EWMA-decayed count of ticks the budget went negative

	// Rate is the client's advertised userinfo "rate" cvar: the bytes/sec
	// ceiling snapshot sends must not exceed, summed over RateMessages
	// ticks. Zero means unset (no ceiling enforced).
	Rate    int
	ratebuf [RateMessages]int
	rateIdx int

	// Ping is the rolling average round-trip time derived from clc_move's
	// lastframe acknowledgment against the snapshot history's send times.
	Ping     time.Duration
	pingbuf  [pingSamples]time.Duration
	pingIdx  int

	// LastFrameAcked is the most recent svc_frame number the client's
	// clc_move reported actually receiving, read off the "lastframe" field
	// ahead of its three delta usercmds.
	LastFrameAcked int32

	// ZombieSince marks when a session entered StateZombie; sweepTimeouts
	// frees the slot once zombietime has elapsed since this timestamp.
	ZombieSince time.Time

	ProtocolVersion int

	Baselines map[int32]struct{} // entity numbers the client has a baseline for

	Download *Download

	mu         sync.Mutex
	reliable   [][]byte
	unreliable [][]byte
	closed     bool
}

// RecordSent folds n bytes sent this tick into the rate window, evicting
// the oldest tick's sample.
func (c *Client) RecordSent(n int) {
	c.ratebuf[c.rateIdx%len(c.ratebuf)] = n
	c.rateIdx++
}

// RateWindowBytes sums bytes sent across the whole rate window.
func (c *Client) RateWindowBytes() int {
	total := 0
	for _, n := range c.ratebuf {
		total += n
	}
	return total
}

// RecordPing folds one round-trip sample into the ping ring and updates the
// averaged Ping field reported to status/info queries.
func (c *Client) RecordPing(d time.Duration) {
	c.pingbuf[c.pingIdx%len(c.pingbuf)] = d
	c.pingIdx++
	var sum time.Duration
	for _, p := range c.pingbuf {
		sum += p
	}
	c.Ping = sum / time.Duration(len(c.pingbuf))
}

// DrainReliableChunk concatenates queued reliable messages into one
// netchan-sized payload, leaving whatever doesn't fit for the next tick.
// Unlike DrainReliable, which removes everything at once, this never
// discards a message netchan's single-outstanding-reliable-slot didn't get
// to send yet.
func (c *Client) DrainReliableChunk() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for len(c.reliable) > 0 {
		next := c.reliable[0]
		if len(out) > 0 && len(out)+len(next) > MaxReliableChunk {
			break
		}
		out = append(out, next...)
		c.reliable = c.reliable[1:]
	}
	return out
}

// NewClient allocates a session in StateFree for a freshly-arrived address.
func NewClient(id uint64, a addr.Address) *Client {
	return &Client{
		ID:        id,
		Addr:      a,
		State:     StateFree,
		UserInfo:  make(map[string]string),
		Baselines: make(map[int32]struct{}),
	}
}

// QueueReliable appends a message to the reliable outgoing queue. Returns
// false if the client is closed or the queue is at capacity; no overflow
// policy is applied here.
func (c *Client) QueueReliable(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if len(c.reliable) >= maxMsgListSize {
		return false
	}
	c.reliable = append(c.reliable, msg)
	return true
}

// QueueUnreliable appends a message to the unreliable outgoing queue.
func (c *Client) QueueUnreliable(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if len(c.unreliable) >= maxMsgListSize {
		return false
	}
	c.unreliable = append(c.unreliable, msg)
	return true
}

// DrainReliable removes and returns every queued reliable message.
func (c *Client) DrainReliable() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.reliable
	c.reliable = nil
	return out
}

// DrainUnreliable removes and returns every queued unreliable message.
func (c *Client) DrainUnreliable() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.unreliable
	c.unreliable = nil
	return out
}

// Close marks the client closed; further Queue* calls become no-ops.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.reliable = nil
	c.unreliable = nil
}

// Table is the bounded set of live client sessions, keyed by address.
type Table struct {
	mu      sync.RWMutex
	byAddr  map[string]*Client
	byID    map[uint64]*Client
	nextID  uint64
	MaxSize int
	Policy  BackpressurePolicy
}

// NewTable returns an empty table capped at maxSize concurrent sessions.
func NewTable(maxSize int) *Table {
	return &Table{
		byAddr:  make(map[string]*Client),
		byID:    make(map[uint64]*Client),
		MaxSize: maxSize,
	}
}

// Get returns the client bound to a, if any.
func (t *Table) Get(a addr.Address) (*Client, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byAddr[a.String()]
	return c, ok
}

// RehomeByQPort demultiplexes a packet whose exact source address doesn't
// match any session against every live client's base IP and QPort. A NAT
// that remaps the client's source port mid-session (or multiple clients
// sitting behind the same translated address) still carries a stable QPort
// in every packet, so this is the fallback path a full-address miss falls
// through to before the packet is dropped. On a match the session's
// address is updated to from and its table key re-homed.
func (t *Table) RehomeByQPort(from addr.Address, qport uint16) (*Client, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.byID {
		if c.State == StateFree || c.QPort != qport || !c.Addr.BaseEqual(from) {
			continue
		}
		delete(t.byAddr, c.Addr.String())
		c.Addr = from
		t.byAddr[from.String()] = c
		return c, true
	}
	return nil, false
}

// Add registers a new client, rejecting the connection if the table is full.
func (t *Table) Add(a addr.Address) (*Client, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.MaxSize > 0 && len(t.byAddr) >= t.MaxSize {
		return nil, false
	}
	t.nextID++
	c := NewClient(t.nextID, a)
	t.byAddr[a.String()] = c
	t.byID[c.ID] = c
	metrics.SetActiveClients(len(t.byAddr))
	if len(t.byAddr) == 1 {
		logging.Subsystem("client").Info("first_client_connected")
	}
	return c, true
}

// Remove drops a client from the table and closes its queues.
func (t *Table) Remove(c *Client) {
	t.mu.Lock()
	_, existed := t.byID[c.ID]
	if existed {
		delete(t.byID, c.ID)
		delete(t.byAddr, c.Addr.String())
	}
	n := len(t.byAddr)
	t.mu.Unlock()
	c.Close()
	metrics.SetActiveClients(n)
	if existed && n == 0 {
		logging.Subsystem("client").Info("last_client_disconnected")
	}
}

// Snapshot returns a slice copy of every live client, for the world tick
// loop to iterate without holding the table lock.
func (t *Table) Snapshot() []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Client, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, c)
	}
	return out
}

// Count reports the number of live sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
