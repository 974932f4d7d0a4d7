// Package dispatch implements the two command tables a connecting or
// connected client drives: connectionless (out-of-band) commands before a
// session exists, and in-session "stringcmd" commands carried over the
// reliable netchan lane.
package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/quakecore/q2srv/internal/addr"
	"github.com/quakecore/q2srv/internal/challenge"
	"github.com/quakecore/q2srv/internal/client"
	"github.com/quakecore/q2srv/internal/download"
	"github.com/quakecore/q2srv/internal/gamerules"
	"github.com/quakecore/q2srv/internal/logging"
	"github.com/quakecore/q2srv/internal/metrics"
	"github.com/quakecore/q2srv/internal/msg"
	"github.com/quakecore/q2srv/internal/vfs"
)

// BanPolicy is the narrow collaborator the dispatcher consults before
// honoring a stringcmd or a cvar the client reports in userinfo. Backed by
// internal/store in production.
type BanPolicy interface {
	IsBannedCommand(name string) bool
	IsBannedCvar(name string) bool
}

// OOBResponder writes a connectionless reply datagram back to an address.
type OOBResponder func(to addr.Address, payload []byte)

// RconAuth checks a plaintext rcon password against the server's configured
// hash. Backed by internal/config.CheckPassword in production.
type RconAuth func(plain string) bool

// RconHandler executes one authenticated rcon command and returns the text
// to echo back to the caller.
type RconHandler func(args []string) string

// Dispatcher owns the command tables and the collaborators they need.
type Dispatcher struct {
	Challenges *challenge.Table
	Clients    *client.Table
	Bans       BanPolicy
	ServerInfo func() map[string]string // live "info" string key/values (hostname, map, maxclients, ...)
	Respond    OOBResponder

	// GM handles ClientConnect/ClientBegin/ClientDisconnect and reports the
	// handshake data (level name, configstrings, spawn baselines) sent
	// during "new". Nil disables game-rules validation of a connect.
	GM gamerules.Game
	// FS resolves "download" stringcmd requests. Nil rejects every download.
	FS *vfs.FS
	// GameDir is reported in svc_serverdata.
	GameDir string
	// SpawnCount distinguishes a "begin" meant for the current map load
	// from a stale one left over from before a map change.
	SpawnCount int32
	// SvMsecs is the per-tick usercmd.msec budget (sv_msecs) granted to a
	// client the moment it reaches StateSpawned.
	SvMsecs int
	// IPLimit caps concurrent sessions sharing a base IP address; zero
	// disables the check.
	IPLimit int
	// Password, if non-empty, must match the connecting client's userinfo
	// "password" key.
	Password string
	// NameStrictness, when non-zero, additionally rejects Quake3-style
	// "^<digit>" color-code sequences in a connecting client's name.
	NameStrictness int

	// RconCheck authenticates the rcon password; nil disables rcon
	// entirely (every attempt is rejected).
	RconCheck RconAuth
	// RconLog records every rcon attempt (success or failure) for audit,
	// backed by internal/store.LogRconAttempt in production.
	RconLog func(remote string, success bool)
	// OnFlushCache is invoked by the "fsflushcache" rcon command; nil
	// makes that command a no-op.
	OnFlushCache func()
	// OnKick removes a client by ID, invoked by the "kick" rcon command.
	// Returns false if no such client exists.
	OnKick func(clientID uint64) bool

	limiter *rateLimiter

	downloadsMu sync.Mutex
	downloads   map[uint64]*download.Session
}

// New returns a Dispatcher wired to its collaborators.
func New(challenges *challenge.Table, clients *client.Table, bans BanPolicy, serverInfo func() map[string]string, respond OOBResponder) *Dispatcher {
	return &Dispatcher{
		Challenges: challenges,
		Clients:    clients,
		Bans:       bans,
		ServerInfo: serverInfo,
		Respond:    respond,
		SpawnCount: 1,
		limiter:    newRateLimiter(),
		downloads:  make(map[uint64]*download.Session),
	}
}

// HandleOOB parses and dispatches one connectionless packet's payload
// (everything after the 0xFFFFFFFF marker). Only "rcon" is flood-guarded
// here (inside oobRcon); the handshake commands (getchallenge, connect,
// ...) must never be throttled, or a client's own retry traffic would
// starve its first successful handshake.
func (d *Dispatcher) HandleOOB(from addr.Address, payload []byte) {
	line := string(payload)
	line = strings.TrimRight(line, "\x00")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "ping":
		d.oobPing(from)
	case "status":
		d.oobStatus(from)
	case "info":
		d.oobInfo(from)
	case "getchallenge":
		d.oobGetChallenge(from)
	case "connect":
		d.oobConnect(from, args)
	case "rcon":
		d.oobRcon(from, args)
	default:
		logging.Subsystem("dispatch").Debug("unknown oob command", "cmd", cmd, "from", from.String())
	}
}

func (d *Dispatcher) oobPing(from addr.Address) {
	d.Respond(from, []byte("\xff\xff\xff\xffack"))
}

func (d *Dispatcher) oobStatus(from addr.Address) {
	var b strings.Builder
	b.WriteString("\xff\xff\xff\xffprint\n")
	for k, v := range d.ServerInfo() {
		fmt.Fprintf(&b, "%s\\%s\n", k, v)
	}
	for _, c := range d.Clients.Snapshot() {
		fmt.Fprintf(&b, "%d %q %s\n", c.ID, c.Name, c.Addr.String())
	}
	d.Respond(from, []byte(b.String()))
}

func (d *Dispatcher) oobInfo(from addr.Address) {
	var b strings.Builder
	b.WriteString("\xff\xff\xff\xffinfo\n")
	for k, v := range d.ServerInfo() {
		fmt.Fprintf(&b, "%s\\%s\n", k, v)
	}
	d.Respond(from, []byte(b.String()))
}

func (d *Dispatcher) oobGetChallenge(from addr.Address) {
	val := d.Challenges.Issue(from)
	metrics.ChallengesIssued.Inc()
	d.Respond(from, []byte(fmt.Sprintf("\xff\xff\xff\xffchallenge %d", val)))
}

// oobConnect handles "connect <protocol> <qport> <challenge> <userinfo>":
// validates the challenge, parses and sanitizes userinfo (forcing the "ip"
// key rather than trusting whatever the client sent), enforces the name,
// password, and per-IP connection-count policies, then hands off to the
// game rules for final accept/reject.
func (d *Dispatcher) oobConnect(from addr.Address, args []string) {
	if len(args) < 4 {
		d.reject(from, "malformed connect")
		return
	}
	protocol, err := parseProtocol(args[0])
	if err != nil {
		d.reject(from, "malformed protocol")
		return
	}
	qport, err := parseQPort(args[1])
	if err != nil {
		d.reject(from, "malformed qport")
		return
	}
	var challengeVal int32
	if _, err := fmt.Sscanf(args[2], "%d", &challengeVal); err != nil {
		d.reject(from, "malformed challenge")
		return
	}
	if !d.Challenges.Consume(from, challengeVal) {
		d.reject(from, "bad challenge")
		metrics.ConnectsRejected.WithLabelValues("bad_challenge").Inc()
		return
	}

	info, err := parseUserinfo(strings.Join(args[3:], " "))
	if err != nil {
		d.reject(from, "malformed userinfo")
		metrics.ConnectsRejected.WithLabelValues("bad_userinfo").Inc()
		return
	}
	if _, clientSuppliedIP := info["ip"]; clientSuppliedIP {
		d.reject(from, "userinfo must not set ip")
		metrics.ConnectsRejected.WithLabelValues("spoofed_ip").Inc()
		return
	}
	info["ip"] = from.String()

	if !validUserinfoName(info["name"], d.NameStrictness) {
		d.reject(from, "invalid name")
		metrics.ConnectsRejected.WithLabelValues("bad_name").Inc()
		return
	}
	if d.Password != "" && info["password"] != d.Password {
		d.reject(from, "bad password")
		metrics.ConnectsRejected.WithLabelValues("bad_password").Inc()
		return
	}
	if d.IPLimit > 0 && d.countByBaseIP(from) >= d.IPLimit {
		d.reject(from, "too many connections from your address")
		metrics.ConnectsRejected.WithLabelValues("ip_limit").Inc()
		return
	}

	if c, ok := d.Clients.Get(from); ok && c.State != client.StateFree {
		// Reconnect: reuse the existing session slot.
		d.connectClient(from, c, protocol, qport, info)
		return
	}
	c, ok := d.Clients.Add(from)
	if !ok {
		d.reject(from, "server full")
		metrics.ConnectsRejected.WithLabelValues("server_full").Inc()
		return
	}
	d.connectClient(from, c, protocol, qport, info)
}

// connectClient finishes accepting a connect once policy checks pass,
// consulting the game rules for the final accept/reject decision.
func (d *Dispatcher) connectClient(from addr.Address, c *client.Client, protocol int, qport uint16, info map[string]string) {
	if d.GM != nil {
		res := d.GM.ClientConnect(c.ID, info)
		if !res.Accepted {
			reason := res.Reason
			if reason == "" {
				reason = "connection refused"
			}
			d.reject(from, reason)
			metrics.ConnectsRejected.WithLabelValues("game_reject").Inc()
			if c.State == client.StateFree {
				d.Clients.Remove(c)
			}
			return
		}
	}
	c.QPort = qport
	c.UserInfo = info
	c.Name = info["name"]
	c.ProtocolVersion = protocol
	c.State = client.StateConnected
	d.accept(from, c, protocol)
}

// countByBaseIP counts live (non-Free) sessions sharing from's base IP
// address, for the sv_iplimit connection cap.
func (d *Dispatcher) countByBaseIP(from addr.Address) int {
	n := 0
	for _, c := range d.Clients.Snapshot() {
		if c.State != client.StateFree && c.Addr.BaseEqual(from) {
			n++
		}
	}
	return n
}

func (d *Dispatcher) accept(from addr.Address, c *client.Client, protocol int) {
	metrics.ConnectsAccepted.Inc()
	d.Respond(from, []byte("\xff\xff\xff\xffclient_connect"))
	logging.Subsystem("dispatch").Info("client_connect_accepted", "client_id", c.ID, "remote", from.String(), "protocol", protocol)
}

func (d *Dispatcher) reject(from addr.Address, reason string) {
	d.Respond(from, []byte(fmt.Sprintf("\xff\xff\xff\xffreject %s", reason)))
}

// parseProtocol parses the connect command's protocol-version argument.
func parseProtocol(s string) (int, error) {
	var v int
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

// parseQPort parses the connect command's qport argument.
func parseQPort(s string) (uint16, error) {
	var v uint32
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// parseUserinfo splits a backslash-delimited "\key\value\key\value..."
// string into a key/value map, matching Quake2's Info_SetValueForKey wire
// format. Rejects an odd field count, an empty key, and any 0xFF byte
// (reserved for netchan framing, never legal in userinfo content).
func parseUserinfo(s string) (map[string]string, error) {
	if s == "" {
		return map[string]string{}, nil
	}
	if !strings.HasPrefix(s, "\\") {
		return nil, fmt.Errorf("dispatch: userinfo must start with \\")
	}
	parts := strings.Split(s, "\\")[1:]
	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("dispatch: userinfo has an unpaired key/value")
	}
	info := make(map[string]string, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		key, val := parts[i], parts[i+1]
		if key == "" {
			return nil, fmt.Errorf("dispatch: userinfo has an empty key")
		}
		if strings.IndexByte(key, 0xFF) >= 0 || strings.IndexByte(val, 0xFF) >= 0 {
			return nil, fmt.Errorf("dispatch: userinfo contains an invalid byte")
		}
		info[key] = val
	}
	return info, nil
}

// validUserinfoName rejects an empty name, any control character or 0xFF
// byte, and (when strictness is non-zero) a Quake3-style "^<digit>"
// color-code sequence.
func validUserinfoName(name string, strictness int) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch < 0x20 || ch == 0xFF {
			return false
		}
		if strictness > 0 && ch == '^' && i+1 < len(name) && name[i+1] >= '0' && name[i+1] <= '9' {
			return false
		}
	}
	return true
}

// oobRcon authenticates and executes a remote-console command, mirroring
// R1Q2's "rcon <password> <command...>" OOB request. Every attempt,
// authenticated or not, is logged for audit. Unlike the handshake
// commands, rcon is flood-guarded: it is the one OOB path that runs
// privileged, potentially expensive game commands.
func (d *Dispatcher) oobRcon(from addr.Address, args []string) {
	if !d.limiter.Allow(from) {
		metrics.IncRateSuppress()
		return
	}
	if len(args) < 2 {
		d.reject(from, "malformed rcon")
		return
	}
	password, name, rest := args[0], args[1], args[2:]

	ok := d.RconCheck != nil && d.RconCheck(password)
	if d.RconLog != nil {
		d.RconLog(from.String(), ok)
	}
	if !ok {
		logging.Subsystem("dispatch").Warn("rcon_rejected", "from", from.String())
		d.Respond(from, []byte("\xff\xff\xff\xffprint\nBad rcon_password.\n"))
		return
	}

	handler, known := d.rconCommands()[name]
	if !known {
		d.Respond(from, []byte(fmt.Sprintf("\xff\xff\xff\xffprint\nUnknown command %q.\n", name)))
		return
	}
	logging.Subsystem("dispatch").Info("rcon_executed", "from", from.String(), "command", name)
	d.Respond(from, []byte("\xff\xff\xff\xffprint\n"+handler(rest)))
}

func (d *Dispatcher) rconCommands() map[string]RconHandler {
	return map[string]RconHandler{
		"status": func([]string) string {
			var b strings.Builder
			for _, c := range d.Clients.Snapshot() {
				fmt.Fprintf(&b, "%d %q %s\n", c.ID, c.Name, c.Addr.String())
			}
			return b.String()
		},
		"kick": func(args []string) string {
			if len(args) < 1 {
				return "usage: kick <client-id>\n"
			}
			var id uint64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return "bad client id\n"
			}
			if d.OnKick == nil || !d.OnKick(id) {
				return fmt.Sprintf("no such client %d\n", id)
			}
			return fmt.Sprintf("kicked client %d\n", id)
		},
		"fsflushcache": func([]string) string {
			if d.OnFlushCache != nil {
				d.OnFlushCache()
			}
			return "path cache flushed\n"
		},
	}
}

// StringCmdHandler executes one in-session reliable command.
type StringCmdHandler func(c *client.Client, args []string)

// StringCmdTable returns the name -> handler map for in-session commands.
// Banned commands (per Bans) are filtered out before lookup.
func (d *Dispatcher) StringCmdTable() map[string]StringCmdHandler {
	return map[string]StringCmdHandler{
		"new":        d.cmdNew,
		"begin":      d.cmdBegin,
		"disconnect": d.cmdDisconnect,
		"nextdl":     d.cmdNextDL,
		"download":   d.cmdDownload,
		"info":       func(*client.Client, []string) {},
		"sinfo":      func(*client.Client, []string) {},
		"nogamedata": func(*client.Client, []string) {},
	}
}

// cmdNew answers the "new" stringcmd with the spawn handshake: svc_serverdata,
// one svc_configstring per set entry, then one svc_spawnbaseline per in-use
// entity. Every piece is queued on the reliable lane; DrainReliableChunk
// coalesces them into as few netchan round trips as the single-outstanding-
// reliable-message rule allows.
func (d *Dispatcher) cmdNew(c *client.Client, _ []string) {
	c.State = client.StateSpawning
	if d.GM == nil {
		return
	}

	sd := msg.NewWriter(96 + len(d.GameDir) + len(d.GM.LevelName()))
	msg.WriteServerData(sd, int32(c.ProtocolVersion), d.SpawnCount, false, d.GameDir, playerNum(c), d.GM.LevelName())
	c.QueueReliable(sd.Bytes())

	for i, cs := range d.GM.ConfigStrings() {
		if cs == "" {
			continue
		}
		cw := msg.NewWriter(48 + len(cs))
		msg.WriteConfigString(cw, int16(i), cs)
		c.QueueReliable(cw.Bytes())
	}

	for _, b := range d.GM.Baselines() {
		bw := msg.NewWriter(64)
		msg.WriteSpawnBaseline(bw, b.Number, b.State)
		c.QueueReliable(bw.Bytes())
	}
}

// playerNum derives the zero-based slot index svc_serverdata reports from a
// client's table ID (IDs are allocated starting at 1).
func playerNum(c *client.Client) int16 {
	if c.ID == 0 {
		return 0
	}
	return int16(c.ID - 1)
}

// cmdBegin answers the "begin" stringcmd: notifies the game rules, advances
// to StateSpawned, and grants the per-tick usercmd.msec budget.
func (d *Dispatcher) cmdBegin(c *client.Client, _ []string) {
	if c.State != client.StateSpawning {
		return
	}
	if d.GM != nil {
		d.GM.ClientBegin(c.ID)
	}
	c.State = client.StateSpawned
	c.MsecBudget = float64(d.SvMsecs)
}

// cmdDisconnect handles a client voluntarily leaving: unlike a timeout or
// kick, there is nothing to send back (the client already knows it's
// disconnecting), but a spawned player's departure is still announced to
// everyone else still in the game.
func (d *Dispatcher) cmdDisconnect(c *client.Client, _ []string) {
	wasSpawned := c.State == client.StateSpawned
	name := c.Name
	if d.GM != nil {
		d.GM.ClientDisconnect(c.ID)
	}
	c.State = client.StateZombie
	if wasSpawned && name != "" {
		d.broadcastPrint(fmt.Sprintf("%s disconnected\n", name))
	}
}

// broadcastPrint queues an svc_print message on every spawned client's
// reliable lane.
func (d *Dispatcher) broadcastPrint(text string) {
	for _, c := range d.Clients.Snapshot() {
		if c.State != client.StateSpawned {
			continue
		}
		w := msg.NewWriter(8 + len(text))
		msg.WritePrint(w, msg.PrintHigh, text)
		c.QueueReliable(w.Bytes())
	}
}

// cmdDownload handles the "download <name>" stringcmd: resolves the file
// via the VFS, starts a chunked transfer session, and sends the first
// chunk. A missing FS, an unresolvable path, or a policy rejection all
// answer with a "not found" reply (size -1) rather than silently dropping
// the request, so the client's download UI doesn't hang.
func (d *Dispatcher) cmdDownload(c *client.Client, args []string) {
	if len(args) < 1 {
		return
	}
	name := args[0]
	if d.Bans != nil && d.Bans.IsBannedCvar(name) {
		d.denyDownload(c, name)
		return
	}
	if d.FS == nil {
		d.denyDownload(c, name)
		return
	}
	sess, err := download.Start(d.FS, name)
	if err != nil {
		d.denyDownload(c, name)
		return
	}

	d.downloadsMu.Lock()
	d.downloads[c.ID] = sess
	d.downloadsMu.Unlock()

	c.Download = &client.Download{SessionID: sess.ID, Name: name, Size: sess.TotalSize()}
	d.sendNextChunk(c, sess)
}

// denyDownload answers a rejected or unresolvable download request with a
// size -1 svc_download, the wire signal for "not found".
func (d *Dispatcher) denyDownload(c *client.Client, name string) {
	w := msg.NewWriter(8)
	msg.WriteDownloadChunk(w, -1, 0, nil, false)
	c.QueueReliable(w.Bytes())
	logging.Subsystem("dispatch").Info("download_denied", "client_id", c.ID, "name", name)
}

// cmdNextDL handles the "nextdl" stringcmd a client sends to request the
// next chunk of an in-flight download.
func (d *Dispatcher) cmdNextDL(c *client.Client, _ []string) {
	d.downloadsMu.Lock()
	sess := d.downloads[c.ID]
	d.downloadsMu.Unlock()
	if sess == nil {
		return
	}
	d.sendNextChunk(c, sess)
}

// sendNextChunk writes one svc_download/svc_zdownload reply and, once the
// session reaches its final chunk, forgets it.
func (d *Dispatcher) sendNextChunk(c *client.Client, sess *download.Session) {
	chunk, final := sess.NextChunk()
	w := msg.NewWriter(len(chunk) + 16)
	msg.WriteDownloadChunk(w, int32(sess.TotalSize()), uint8(sess.Percent()), chunk, sess.IsCompressed())
	c.QueueReliable(w.Bytes())
	metrics.AddDownloadBytes(len(chunk))
	if c.Download != nil {
		c.Download.Offset = sess.Offset()
	}
	if final {
		d.downloadsMu.Lock()
		delete(d.downloads, c.ID)
		d.downloadsMu.Unlock()
		c.Download = nil
	}
}

// HandleStringCmd looks up and runs a reliable-lane command, rejecting
// names the ban policy excludes.
func (d *Dispatcher) HandleStringCmd(c *client.Client, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	name := fields[0]
	if d.Bans != nil && d.Bans.IsBannedCommand(name) {
		metrics.IncPacketDrop("banned_command")
		return
	}
	handler, ok := d.StringCmdTable()[name]
	if !ok {
		return
	}
	handler(c, fields[1:])
}
