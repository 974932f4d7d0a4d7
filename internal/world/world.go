// Package world owns the main server tick loop: draining the UDP socket,
// classifying connectionless vs in-session traffic, feeding usercmds and
// stringcmds into the game rules, building each client's snapshot, and
// flushing the reliable/unreliable queues back out over netchan. The
// options-pattern constructor and Run/Shutdown life-cycle generalize a
// single-listener accept loop into a UDP tick loop driving many netchan
// peers at once.
package world

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quakecore/q2srv/internal/addr"
	"github.com/quakecore/q2srv/internal/challenge"
	"github.com/quakecore/q2srv/internal/client"
	"github.com/quakecore/q2srv/internal/dispatch"
	"github.com/quakecore/q2srv/internal/gamerules"
	"github.com/quakecore/q2srv/internal/logging"
	"github.com/quakecore/q2srv/internal/metrics"
	"github.com/quakecore/q2srv/internal/msg"
	"github.com/quakecore/q2srv/internal/netchan"
	"github.com/quakecore/q2srv/internal/netio"
	"github.com/quakecore/q2srv/internal/snapshot"
	"github.com/quakecore/q2srv/internal/svcerr"
	"github.com/quakecore/q2srv/internal/vfs"
)

const (
	defaultTickRate      = 10 * time.Millisecond * 10 // 10Hz, matching R1Q2's default sv_fps
	defaultClientTimeout = 60 * time.Second
	defaultHeartbeat     = 300 * time.Second
	defaultZombieTime    = 2 * time.Second
	defaultSvMsecs       = 100
	defaultMaxNetDrop    = 3 // never replay further back than the 3 usercmds clc_move carries
)

// Server is the running game server: one UDP socket, the client table, and
// every per-client netchan/snapshot-history pair keyed by client ID.
type Server struct {
	mu sync.RWMutex

	listenAddr     string
	maxClients     int
	tickRate       time.Duration
	clientTimeout  time.Duration
	zombieTime     time.Duration
	heartbeatEvery time.Duration
	hostname       string
	gameDir        string
	ipLimit        int
	serverPassword string
	svMsecs        int
	maxNetDrop     int
	nameStrictness int

	sock       *netio.Socket
	clients    *client.Table
	challenges *challenge.Table
	dispatcher *dispatch.Dispatcher
	gm         gamerules.Game
	fs         *vfs.FS

	channels  map[uint64]*netchan.Channel
	histories map[uint64]*snapshot.History

	bans     dispatch.BanPolicy
	rconAuth dispatch.RconAuth
	rconLog  func(remote string, success bool)
	logger   *slog.Logger

	lastHeartbeat time.Time
}

// Option configures a Server at construction time.
type Option func(*Server)

func WithListenAddr(a string) Option { return func(s *Server) { s.listenAddr = a } }
func WithMaxClients(n int) Option    { return func(s *Server) { s.maxClients = n } }
func WithTickRate(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.tickRate = d
		}
	}
}
func WithClientTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.clientTimeout = d
		}
	}
}
func WithHeartbeatPeriod(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeatEvery = d
		}
	}
}
func WithHostname(h string) Option              { return func(s *Server) { s.hostname = h } }
func WithGameRules(gm gamerules.Game) Option     { return func(s *Server) { s.gm = gm } }
func WithFS(fs *vfs.FS) Option                   { return func(s *Server) { s.fs = fs } }
func WithBanPolicy(b dispatch.BanPolicy) Option  { return func(s *Server) { s.bans = b } }
func WithRconAuth(auth dispatch.RconAuth) Option { return func(s *Server) { s.rconAuth = auth } }
func WithRconLog(fn func(remote string, success bool)) Option {
	return func(s *Server) { s.rconLog = fn }
}
func WithGameDir(dir string) Option { return func(s *Server) { s.gameDir = dir } }
func WithIPLimit(n int) Option      { return func(s *Server) { s.ipLimit = n } }
func WithServerPassword(p string) Option {
	return func(s *Server) { s.serverPassword = p }
}
func WithSvMsecs(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.svMsecs = n
		}
	}
}
func WithZombieTime(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.zombieTime = d
		}
	}
}
func WithMaxNetDrop(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxNetDrop = n
		}
	}
}
func WithNameStrictness(n int) Option { return func(s *Server) { s.nameStrictness = n } }

// New constructs a Server. sock, clients, and challenges are required
// collaborators; everything else has a sane default.
func New(sock *netio.Socket, clients *client.Table, challenges *challenge.Table, opts ...Option) *Server {
	s := &Server{
		tickRate:       defaultTickRate,
		clientTimeout:  defaultClientTimeout,
		zombieTime:     defaultZombieTime,
		heartbeatEvery: defaultHeartbeat,
		hostname:       "q2srv",
		svMsecs:        defaultSvMsecs,
		maxNetDrop:     defaultMaxNetDrop,
		sock:           sock,
		clients:        clients,
		challenges:     challenges,
		channels:       make(map[uint64]*netchan.Channel),
		histories:      make(map[uint64]*snapshot.History),
		logger:         logging.Subsystem("world"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.gm == nil {
		s.gm = gamerules.NewStub(1024)
	}
	s.dispatcher = dispatch.New(challenges, clients, s.bans, s.serverInfo, s.respond)
	s.dispatcher.RconCheck = s.rconAuth
	s.dispatcher.RconLog = s.rconLog
	s.dispatcher.GM = s.gm
	s.dispatcher.FS = s.fs
	s.dispatcher.GameDir = s.gameDir
	s.dispatcher.SvMsecs = s.svMsecs
	s.dispatcher.IPLimit = s.ipLimit
	s.dispatcher.Password = s.serverPassword
	s.dispatcher.NameStrictness = s.nameStrictness
	s.dispatcher.OnFlushCache = func() {
		if s.fs != nil {
			s.fs.FlushCache()
		}
	}
	s.dispatcher.OnKick = func(clientID uint64) bool {
		for _, c := range s.clients.Snapshot() {
			if c.ID == clientID {
				s.dropSession(c, svcerr.NewSessionDrop(svcerr.ReasonAdmin, ""))
				return true
			}
		}
		return false
	}
	return s
}

func (s *Server) serverInfo() map[string]string {
	return map[string]string{
		"hostname":   s.hostname,
		"maxclients": fmt.Sprintf("%d", s.maxClients),
		"clients":    fmt.Sprintf("%d", s.clients.Count()),
	}
}

func (s *Server) respond(to addr.Address, payload []byte) {
	if err := s.sock.Send(to, payload); err != nil {
		metrics.IncError("netio_send")
		s.logger.Warn("send failed", "to", to.String(), "err", err)
	}
}

// Run drives the tick loop until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickRate)
	defer ticker.Stop()
	s.logger.Info("world_tick_loop_started", "tick_rate", s.tickRate, "listen_addr", s.listenAddr)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Server) tick() {
	pkts, err := s.sock.RecvBatch(time.Millisecond)
	if err != nil {
		metrics.IncError("netio_recv")
		s.logger.Warn("recv batch failed", "err", err)
	}
	for _, p := range pkts {
		if p.OOB {
			s.dispatcher.HandleOOB(p.From, p.Data[4:])
			continue
		}
		s.handleSessionPacket(p)
	}

	s.sweepTimeouts()
	s.sendSnapshots()
	s.maybeHeartbeat()
}

// handleSessionPacket processes one in-session datagram: netchan sequencing,
// a reliable stringcmd (if any), and the unreliable clc_move payload — a
// lastframe ack followed by three chronological delta usercmds, covering
// the last two ticks' worth of loss so a dropped unreliable datagram still
// gets its input applied once the next one arrives.
func (s *Server) handleSessionPacket(p netio.Packet) {
	c, ok := s.clients.Get(p.From)
	if !ok {
		// The exact address doesn't match a session, but a NAT can remap a
		// client's source port mid-session; fall back to QPort-based demux
		// before blackholing the packet as exploit-shaped traffic.
		qport, peeked := netchan.PeekQPort(p.Data)
		if !peeked {
			return
		}
		c, ok = s.clients.RehomeByQPort(p.From, qport)
		if !ok {
			return
		}
	}
	ch, ok := s.channels[c.ID]
	if !ok {
		ch = netchan.NewChannel(p.From, c.QPort)
		s.channels[c.ID] = ch
	} else {
		ch.Remote = p.From
	}
	reliable, unreliable, _, err := ch.Process(p.Data)
	if err != nil {
		metrics.IncPacketDrop("netchan_" + err.Error())
		return
	}
	c.LastMessage = time.Now()

	if reliable != nil {
		s.dispatcher.HandleStringCmd(c, string(reliable))
	}
	if unreliable != nil {
		if err := s.applyMove(c, ch, unreliable); err != nil {
			s.dropSession(c, err)
		}
	}
}

// applyMove decodes clc_move's lastframe ack and three chronological delta
// usercmds, records the round-trip latency the ack implies, and replays as
// many of the three as were lost in transit (per netchan's sequence-gap
// count, capped at maxNetDrop) so a single dropped unreliable datagram never
// costs the player an input tick.
func (s *Server) applyMove(c *client.Client, ch *netchan.Channel, payload []byte) error {
	r := msg.NewReader(payload)
	lastFrame, err := r.ReadLong()
	if err != nil {
		return svcerr.NewSessionDrop(svcerr.ReasonExploit, "truncated move header")
	}
	c.LastFrameAcked = lastFrame

	var cmds [3]msg.UserCmd
	prev := msg.UserCmd{}
	for i := 0; i < 3; i++ {
		cmd, err := msg.DecodeDeltaUserCmd(r, prev)
		if err != nil {
			return svcerr.NewSessionDrop(svcerr.ReasonExploit, "truncated usercmd")
		}
		if cmd.Msec > 250 {
			return svcerr.NewSessionDrop(svcerr.ReasonExploit, "usercmd.msec out of range")
		}
		cmds[i] = cmd
		prev = cmd
	}

	if h, ok := s.histories[c.ID]; ok {
		if latency, ok := h.AckFrame(lastFrame); ok {
			c.RecordPing(latency)
		}
	}

	replay := ch.Drops() + 1
	if replay > uint32(s.maxNetDrop) {
		replay = uint32(s.maxNetDrop)
	}
	if replay > 3 {
		replay = 3
	}
	start := 3 - int(replay)
	for i := start; i < 3; i++ {
		s.gm.ClientThink(c.ID, cmds[i])
	}
	c.LastCmdTime = time.Now()
	return nil
}

// dropSession tears down a session through its full lifecycle: game-rules
// notification, a final svc_print/svc_disconnect to the client (unless the
// reason must stay silent), a departure broadcast if the player had reached
// the game, and a transition to StateZombie rather than an immediate table
// removal — sweepTimeouts reaps the slot once zombieTime has elapsed, giving
// any last reliable bytes in flight a chance to actually reach the client.
func (s *Server) dropSession(c *client.Client, cause error) {
	reason, ok := svcerr.AsSessionDrop(cause)
	label := "unknown"
	if ok {
		label = reason.Reason.String()
	}
	metrics.IncSessionDrop(label)

	wasSpawned := c.State == client.StateSpawned
	name := c.Name

	if !ok || !reason.Reason.Silent() {
		w := msg.NewWriter(64)
		if ok && reason.Detail != "" {
			msg.WritePrint(w, msg.PrintHigh, fmt.Sprintf("Disconnected: %s\n", reason.Detail))
		}
		msg.WriteDisconnect(w)
		s.respond(c.Addr, w.Bytes())

		if wasSpawned && name != "" {
			s.broadcastPrint(fmt.Sprintf("%s was dropped: %s\n", name, label))
		}
	}

	s.gm.ClientDisconnect(c.ID)
	c.State = client.StateZombie
	c.ZombieSince = time.Now()
}

// broadcastPrint queues an svc_print message on every spawned client's
// reliable lane.
func (s *Server) broadcastPrint(text string) {
	for _, c := range s.clients.Snapshot() {
		if c.State != client.StateSpawned {
			continue
		}
		w := msg.NewWriter(8 + len(text))
		msg.WritePrint(w, msg.PrintHigh, text)
		c.QueueReliable(w.Bytes())
	}
}

// sweepTimeouts runs the two-phase cleanup the client state machine expects:
// a live session past clientTimeout is dropped (svc_disconnect, broadcast,
// StateZombie) but kept in the table; a zombie session past zombieTime since
// it entered that state is finally removed, freeing its slot and netchan/
// history state. Separating the phases gives a dropped client's last
// outbound bytes — the disconnect notice, a departure broadcast — time to
// actually be transmitted before the slot is reused.
func (s *Server) sweepTimeouts() {
	now := time.Now()
	for _, c := range s.clients.Snapshot() {
		switch c.State {
		case client.StateFree:
			continue
		case client.StateZombie:
			if now.Sub(c.ZombieSince) > s.zombieTime {
				s.clients.Remove(c)
				delete(s.channels, c.ID)
				delete(s.histories, c.ID)
			}
		default:
			if now.Sub(c.LastMessage) > s.clientTimeout {
				s.dropSession(c, svcerr.NewSessionDrop(svcerr.ReasonTimeout, ""))
			}
		}
	}
}

// sendSnapshots builds and transmits one svc_frame per spawned client, the
// way R1Q2's SV_SendClientMessages does: rate-ceiling suppression first (a
// client over its advertised byte budget gets its frame withheld but still
// gets its pending reliable chunk flushed, since acking reliable data isn't
// rate-limited), then the actual PVS-gated, delta-compressed frame build,
// compressed into an svc_zpacket when it's large enough to be worth it.
func (s *Server) sendSnapshots() {
	for _, c := range s.clients.Snapshot() {
		if c.State != client.StateSpawned {
			continue
		}
		ch, ok := s.channels[c.ID]
		if !ok {
			continue
		}
		h, ok := s.histories[c.ID]
		if !ok {
			h = snapshot.NewHistory()
			s.histories[c.ID] = h
		}

		var unreliable []byte
		if c.Rate > 0 && !c.Addr.IsLoopback() && c.RateWindowBytes() >= c.Rate {
			h.Suppress()
			metrics.IncRateSuppress()
		} else {
			leaf := s.gm.PointLeaf([3]float32{})
			cluster := s.gm.LeafCluster(leaf)
			area := s.gm.LeafArea(leaf)

			entities := make([]snapshot.Entity, 0, len(s.gm.Entities()))
			for _, b := range s.gm.Entities() {
				entities = append(entities, snapshot.Entity{
					Number:  b.Number,
					Cluster: cluster,
					Area:    area,
					State:   b.State,
				})
			}

			payload := h.BuildFrame(int32(time.Now().UnixMilli()), area, cluster, s.gm, entities, msg.PlayerState{})
			metrics.AddSnapshotBytes(len(payload))

			if snapshot.ShouldCompress(payload) {
				if z, err := snapshot.BuildZPacket(payload); err == nil {
					payload = z
					metrics.SnapshotZPackets.Inc()
				}
			}
			unreliable = payload
		}

		if !ch.HasPendingReliable() {
			if chunk := c.DrainReliableChunk(); len(chunk) > 0 {
				ch.SetReliable(chunk)
			}
		}
		pkt := ch.Transmit(unreliable)
		c.RecordSent(len(pkt))
		s.respond(c.Addr, pkt)
	}
}

func (s *Server) maybeHeartbeat() {
	now := time.Now()
	if now.Sub(s.lastHeartbeat) < s.heartbeatEvery {
		return
	}
	s.lastHeartbeat = now
	s.logger.Debug("master_heartbeat", "clients", s.clients.Count())
}
