// Package anticheat implements the optional TCP bridge to an external
// anti-cheat verdict service: a length-prefixed framing protocol, a
// handshake, query/reply correlation, and a fail-open timeout policy (a
// slow or dead anti-cheat backend must never block gameplay).
package anticheat

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/higebu/netfd"
	"github.com/mikioh/tcpinfo"
	"github.com/rs/xid"

	"github.com/quakecore/q2srv/internal/logging"
	"github.com/quakecore/q2srv/internal/metrics"
)

// AC_BUFFSIZE sizes the bridge connection's buffered writer and reader,
// matching R1Q2's anticheat bridge buffer budget.
const acBuffSize = 128 * 1024

// DefaultQueryTimeout is how long Bridge.Query waits before failing open.
const DefaultQueryTimeout = 750 * time.Millisecond

// Query is one verdict request sent to the anti-cheat backend.
type Query struct {
	ID       xid.ID
	ClientID uint64
	Kind     string
	Payload  []byte
}

// Reply is the backend's verdict for a previously sent Query.
type Reply struct {
	ID      xid.ID
	Allowed bool
	Reason  string
}

// Bridge owns one TCP connection to the anti-cheat backend.
type Bridge struct {
	conn net.Conn
	w    *bufio.Writer
	tx   *AsyncTx[Query]

	mu      sync.Mutex
	pending map[xid.ID]chan Reply

	timeout time.Duration
}

// Dial connects to addr, performs the handshake, and starts the bridge's
// async send worker and reply-reader goroutine.
func Dial(ctx context.Context, addr string, handshakeTimeout time.Duration) (*Bridge, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("anticheat: dial: %w", err)
	}
	if err := Handshake(ctx, conn, handshakeTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}
	b := &Bridge{
		conn:    conn,
		w:       bufio.NewWriterSize(conn, acBuffSize),
		pending: make(map[xid.ID]chan Reply),
		timeout: DefaultQueryTimeout,
	}
	b.tx = NewAsyncTx(ctx, 256, b.writeFrame, Hooks[Query]{
		OnError: func(err error) {
			metrics.IncError("anticheat_write")
			logging.Subsystem("anticheat").Warn("write failed", "err", err)
		},
		OnDrop: func(q Query) error {
			metrics.IncError("anticheat_queue_full")
			return errors.New("anticheat: query queue full")
		},
	})
	go b.readLoop()
	return b, nil
}

// writeFrame encodes and flushes one length-prefixed query frame.
func (b *Bridge) writeFrame(q Query) error {
	body := encodeQuery(q)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := b.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := b.w.Write(body); err != nil {
		return err
	}
	return b.w.Flush()
}

// Query sends a verdict request and waits up to the bridge timeout for a
// reply, failing open (Allowed=true) on timeout or send error so a wedged
// backend never blocks a legitimate client.
func (b *Bridge) Query(clientID uint64, kind string, payload []byte) Reply {
	id := xid.New()
	ch := make(chan Reply, 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	metrics.IncACQuery()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := b.tx.Send(Query{ID: id, ClientID: clientID, Kind: kind, Payload: payload}); err != nil {
		return Reply{ID: id, Allowed: true, Reason: "send_failed_fail_open"}
	}

	select {
	case r := <-ch:
		return r
	case <-time.After(b.timeout):
		metrics.IncACTimeout()
		return Reply{ID: id, Allowed: true, Reason: "timeout_fail_open"}
	}
}

func (b *Bridge) readLoop() {
	r := bufio.NewReaderSize(b.conn, acBuffSize)
	for {
		var hdr [4]byte
		if _, err := readFull(r, hdr[:]); err != nil {
			logging.Subsystem("anticheat").Warn("bridge read closed", "err", err)
			return
		}
		n := binary.BigEndian.Uint32(hdr[:])
		body := make([]byte, n)
		if _, err := readFull(r, body); err != nil {
			logging.Subsystem("anticheat").Warn("bridge read closed mid-frame", "err", err)
			return
		}
		reply, err := decodeReply(body)
		if err != nil {
			logging.Subsystem("anticheat").Warn("bad reply frame", "err", err)
			continue
		}
		b.mu.Lock()
		ch, ok := b.pending[reply.ID]
		b.mu.Unlock()
		if ok {
			select {
			case ch <- reply:
			default:
			}
		}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// RTT samples the current round-trip-time estimate off the bridge's TCP
// connection via mikioh/tcpinfo and publishes it to the anticheat RTT
// gauge. Each call takes one sample; nothing in the module calls it on a
// schedule.
func (b *Bridge) RTT() (time.Duration, error) {
	tcpConn, ok := b.conn.(*net.TCPConn)
	if !ok {
		return 0, errors.New("anticheat: not a TCP connection")
	}
	fd := netfd.GetFdFromConn(tcpConn)
	info, err := tcpinfo.Syscall(int(fd))
	if err != nil {
		return 0, fmt.Errorf("anticheat: tcpinfo: %w", err)
	}
	metrics.SetACRTT(info.RTT.Seconds())
	return info.RTT, nil
}

// Close stops the send worker and closes the connection.
func (b *Bridge) Close() error {
	b.tx.Close()
	return b.conn.Close()
}
