// Package netio owns the raw UDP socket(s) the server listens on: the
// non-blocking read/write path, out-of-band packet classification, and the
// handful of socket-level tuning knobs (buffer sizes, non-blocking mode)
// applied via the file descriptor. Loopback traffic (for single-process
// testing and local tools) is carried over an in-memory channel instead of
// a real socket.
package netio

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/quakecore/q2srv/internal/addr"
	"github.com/quakecore/q2srv/internal/logging"
)

// OOBMarker is the four 0xFF bytes that prefix every connectionless packet,
// matching R1Q2's NETCHAN_OOB_MAGIC.
var OOBMarker = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}

// Packet is one datagram read off the wire (or the loopback channel), along
// with its source address and whether it carries the OOB marker.
type Packet struct {
	From addr.Address
	Data []byte
	OOB  bool
}

// ErrClosed is returned by Recv after Close.
var ErrClosed = errors.New("netio: closed")

const (
	readBatchSize = 64
	recvBufSize   = 4096
	sockBufBytes  = 1 << 20 // 1 MiB send/recv buffers
)

// Socket wraps a UDP listener with non-blocking batched reads.
type Socket struct {
	conn      *net.UDPConn
	pconn     *ipv4.PacketConn
	loopbackIn  chan Packet
	loopbackOut chan Packet
}

// Listen opens a UDP socket on addr (e.g. ":27910") and tunes its socket
// buffers via the raw file descriptor.
func Listen(listenAddr string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", listenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, err
	}
	tuneSocket(conn)
	return &Socket{conn: conn, pconn: ipv4.NewPacketConn(conn)}, nil
}

// tuneSocket raises the kernel socket buffers on the listener's raw fd. A
// failure here is logged and otherwise ignored — the server runs fine with
// default buffer sizes, just with more drops under burst load.
func tuneSocket(conn *net.UDPConn) {
	fd := int(netfd.GetFdFromConn(conn))
	if fd <= 0 {
		logging.Subsystem("netio").Warn("could not get raw fd for socket tuning")
		return
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, sockBufBytes); err != nil {
		logging.Subsystem("netio").Debug("setsockopt SO_RCVBUF failed", "err", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, sockBufBytes); err != nil {
		logging.Subsystem("netio").Debug("setsockopt SO_SNDBUF failed", "err", err)
	}
}

// NewLoopback returns a pair of sockets wired directly to each other's
// channels, for in-process client/server tests and the "loopback" client.
func NewLoopback() (server, client *Socket) {
	a := make(chan Packet, 256)
	b := make(chan Packet, 256)
	server = &Socket{loopbackIn: a, loopbackOut: b}
	client = &Socket{loopbackIn: b, loopbackOut: a}
	return server, client
}

// RecvBatch reads up to readBatchSize datagrams without blocking past
// deadline, classifying each as OOB or not.
func (s *Socket) RecvBatch(deadline time.Duration) ([]Packet, error) {
	if s.conn == nil {
		return s.recvLoopbackBatch()
	}
	if deadline > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(deadline))
	}
	msgs := make([]ipv4.Message, readBatchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, recvBufSize)}
	}
	n, err := s.pconn.ReadBatch(msgs, 0)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Packet, 0, n)
	for i := 0; i < n; i++ {
		udpAddr, ok := msgs[i].Addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		data := msgs[i].Buffers[0][:msgs[i].N]
		out = append(out, Packet{
			From: addr.FromIP(udpAddr.IP, uint16(udpAddr.Port)),
			Data: data,
			OOB:  classifyOOB(data),
		})
	}
	return out, nil
}

func (s *Socket) recvLoopbackBatch() ([]Packet, error) {
	select {
	case p, ok := <-s.loopbackIn:
		if !ok {
			return nil, ErrClosed
		}
		out := []Packet{p}
		for len(out) < readBatchSize {
			select {
			case p, ok := <-s.loopbackIn:
				if !ok {
					return out, nil
				}
				out = append(out, p)
			default:
				return out, nil
			}
		}
		return out, nil
	case <-time.After(50 * time.Millisecond):
		return nil, nil
	}
}

// Send writes one datagram to dst.
func (s *Socket) Send(dst addr.Address, data []byte) error {
	if s.conn == nil {
		select {
		case s.loopbackOut <- Packet{Data: append([]byte(nil), data...), OOB: classifyOOB(data)}:
			return nil
		default:
			return errors.New("netio: loopback channel full")
		}
	}
	_, err := s.conn.WriteToUDP(data, &net.UDPAddr{IP: dst.IP(), Port: int(dst.Port)})
	return err
}

// Close releases the underlying socket or loopback channel.
func (s *Socket) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// classifyOOB reports whether data begins with the four 0xFF OOB marker
// bytes used by connectionless commands.
func classifyOOB(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(data[:4]) == 0xFFFFFFFF
}
