// Package netchan implements the sequenced reliable/unreliable datagram
// channel each client session communicates over: a 32-bit outgoing
// sequence counter, an acked incoming sequence, a one-message-at-a-time
// reliable lane piggybacked on the high bit of the sequence numbers, and a
// QPort value used to demultiplex clients that sit behind the same NAT
// address. This mirrors R1Q2's netchan.c sequencing rules over lossy UDP,
// unlike a framed TCP stream where loss isn't a concern.
package netchan

import (
	"encoding/binary"
	"errors"

	"github.com/quakecore/q2srv/internal/addr"
)

// reliableBit is OR'd into a sequence number to mark it as carrying (or
// acking) the reliable lane.
const reliableBit = 1 << 31

// ErrShortPacket is returned when a packet is too small to contain a
// netchan header.
var ErrShortPacket = errors.New("netchan: short packet")

// ErrStale is returned for a packet whose sequence number is not newer than
// the highest one already processed — a duplicate or reordered delivery.
var ErrStale = errors.New("netchan: stale sequence")

// ErrQPortMismatch is returned when a packet's embedded QPort doesn't match
// the value the channel was bound to at connect time — either a spoofed
// peer or a stale packet from a session that has since been replaced.
var ErrQPortMismatch = errors.New("netchan: qport mismatch")

// headerLen is seq(4) + ack(4) + qport(2): every packet, in both
// directions, carries the sender's QPort so a peer sitting behind a NAT
// that remaps source ports between packets can still be demultiplexed from
// any other client sharing the same translated address.
const headerLen = 10

// PeekQPort extracts the QPort from a raw packet without needing an
// existing Channel, so the caller can demux an incoming packet to the
// right client session before Process has anything to validate against.
func PeekQPort(data []byte) (uint16, bool) {
	if len(data) < headerLen {
		return 0, false
	}
	return binary.LittleEndian.Uint16(data[8:10]), true
}

// Channel is one peer's sequencing state. Not safe for concurrent use by
// multiple goroutines without external synchronization (the world tick
// loop owns it single-threaded per client).
type Channel struct {
	Remote addr.Address
	QPort  uint16

	outgoingSeq         uint32
	incomingSeq         uint32
	incomingSeqReliable bool
	incomingAck         uint32 // highest incoming sequence the peer has acked

	reliableSeq     uint32 // toggles 0/1, the bit sent in outgoing packets while a reliable message is pending
	reliableSent    []byte
	reliablePending bool
	lastReliableAck uint32

	lastDrops uint32 // sequence gap observed on the most recently processed packet
}

// Drops reports how many outgoing datagrams were lost in transit before the
// most recently processed incoming packet, derived from the gap between
// consecutive sequence numbers. Callers use this to bound how many of their
// own buffered usercmds need replaying to cover the gap.
func (c *Channel) Drops() uint32 { return c.lastDrops }

// NewChannel starts a channel for remote with the given QPort (0 when the
// peer is the server side and doesn't echo one).
func NewChannel(remote addr.Address, qport uint16) *Channel {
	return &Channel{Remote: remote, QPort: qport}
}

// SetReliable stages data to be sent on the reliable lane until it is acked.
// Returns false if a reliable message is already in flight (callers must
// wait for the previous one to be acked before queueing another, matching
// R1Q2's single-outstanding-reliable-message rule).
func (c *Channel) SetReliable(data []byte) bool {
	if c.reliablePending {
		return false
	}
	c.reliableSeq ^= 1
	c.reliableSent = data
	c.reliablePending = true
	return true
}

// HasPendingReliable reports whether a reliable message is awaiting ack.
func (c *Channel) HasPendingReliable() bool { return c.reliablePending }

// Transmit assembles one outgoing packet: header (outgoing seq | reliable
// bit, incoming seq ack | reliable bit, QPort) followed by the reliable
// payload (if pending) and the unreliable payload.
func (c *Channel) Transmit(unreliable []byte) []byte {
	c.outgoingSeq++
	seq := c.outgoingSeq
	ack := c.incomingSeq
	if c.reliablePending {
		seq |= reliableBit
	}
	if c.incomingReliableSeq() {
		ack |= reliableBit
	}

	buf := make([]byte, headerLen, headerLen+len(c.reliableSent)+len(unreliable))
	binary.LittleEndian.PutUint32(buf[0:4], seq)
	binary.LittleEndian.PutUint32(buf[4:8], ack)
	binary.LittleEndian.PutUint16(buf[8:10], c.QPort)
	if c.reliablePending {
		buf = append(buf, c.reliableSent...)
	}
	buf = append(buf, unreliable...)
	return buf
}

// incomingReliableSeq tracks whether the last processed incoming packet
// carried the reliable bit, so ack echoes match what the peer expects.
func (c *Channel) incomingReliableSeq() bool { return c.incomingSeqReliable }

// Process validates an incoming packet's header, updates sequencing state,
// and returns the reliable (if newly delivered) and unreliable payload
// slices. dupReliable is true if the reliable portion is a retransmit
// already delivered (the caller should re-ack but not re-process it).
func (c *Channel) Process(data []byte) (reliable, unreliable []byte, dupReliable bool, err error) {
	if len(data) < headerLen {
		return nil, nil, false, ErrShortPacket
	}
	seq := binary.LittleEndian.Uint32(data[0:4])
	ack := binary.LittleEndian.Uint32(data[4:8])
	qport := binary.LittleEndian.Uint16(data[8:10])
	hasReliable := seq&reliableBit != 0
	ackReliable := ack&reliableBit != 0
	seq &^= reliableBit
	ack &^= reliableBit

	if c.QPort != 0 && qport != c.QPort {
		return nil, nil, false, ErrQPortMismatch
	}

	if seq <= c.incomingSeq && c.incomingSeq != 0 {
		return nil, nil, false, ErrStale
	}
	if c.incomingSeq != 0 {
		c.lastDrops = seq - c.incomingSeq - 1
	}
	c.incomingSeq = seq
	c.incomingSeqReliable = hasReliable

	if ack > c.incomingAck {
		c.incomingAck = ack
	}
	if c.reliablePending && ackReliable {
		c.reliablePending = false
		c.reliableSent = nil
	}

	payload := data[headerLen:]
	if hasReliable {
		// The reliable message, if any, occupies the payload up to the
		// point the caller's higher-level framing (msg length prefixes)
		// delimits it; netchan itself treats the remainder as opaque.
		return payload, nil, false, nil
	}
	return nil, payload, false, nil
}
