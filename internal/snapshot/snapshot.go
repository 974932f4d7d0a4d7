// Package snapshot builds the per-client svc_frame message: a PVS/PHS
// gated walk of the world's entities, delta-compressed against each
// client's last-sent baseline, with optional DEFLATE compression for
// oversized frames (svc_zpacket).
package snapshot

import (
	"bytes"
	"compress/zlib"
	"time"

	"github.com/quakecore/q2srv/internal/gamerules"
	"github.com/quakecore/q2srv/internal/msg"
)

// SvcZPacket is the opcode wrapping a DEFLATE-compressed frame; it lives
// here rather than in internal/msg because it is a framing concern specific
// to snapshot transmission, not a message internal/msg's other callers need.
const SvcZPacket = 29

// zPacketThreshold is the frame size above which the server compresses the
// payload with DEFLATE instead of sending it raw, per R1Q2's sv_send.c.
const zPacketThreshold = 256

// Entity is one simulated entity as the world tick loop sees it. Area is
// the leaf-area the entity currently occupies (for the areas_connected
// visibility test); AlwaysRelevant exempts an entity from both the PVS and
// area checks, the way R1Q2 always relevant the client's own entity and a
// few fixed HUD-driving entities regardless of where the camera is looking.
type Entity struct {
	Number         int32
	Cluster        int32
	Area           int32
	AlwaysRelevant bool
	State          msg.EntityState
}

// History is the per-client delta-compression state: what the client was
// last told about each entity, and which entities were visible last frame
// (so a now-invisible entity can be explicitly removed). It also tracks
// frame numbering for svc_frame's delta_from field and the suppress count
// accumulated while the rate ceiling withholds frames.
type History struct {
	lastSent map[int32]msg.EntityState
	visible  map[int32]struct{}

	frameNum      int32
	haveBaseline  bool
	suppressCount int
	lastPS        msg.PlayerState
	sentAt        map[int32]time.Time

	framesSinceDelta int
	noDeltaAbuse     int
}

// NewHistory returns an empty per-client snapshot history.
func NewHistory() *History {
	return &History{
		lastSent: make(map[int32]msg.EntityState),
		visible:  make(map[int32]struct{}),
		sentAt:   make(map[int32]time.Time),
	}
}

// AckFrame reports the round-trip latency for a frame number the client has
// just confirmed receiving via clc_move's lastframe field, and forgets
// every earlier unacked entry so sentAt doesn't grow unbounded for a client
// that stops acking frames at all.
func (h *History) AckFrame(frameNum int32) (time.Duration, bool) {
	sentAt, ok := h.sentAt[frameNum]
	if !ok {
		return 0, false
	}
	latency := time.Since(sentAt)
	for n := range h.sentAt {
		if n <= frameNum {
			delete(h.sentAt, n)
		}
	}
	return latency, true
}

// Suppress records that this tick's frame was withheld by the rate ceiling
// instead of being transmitted, so the next frame actually sent reports how
// many were skipped via svc_frame's suppress_count.
func (h *History) Suppress() { h.suppressCount++ }

// BuildFrame walks entities, keeps only those relevant to a viewer in
// viewerArea/viewerCluster (either always-relevant, or both PVS-visible and
// in an area gm reports as connected), and writes a full svc_frame message:
// header, player-state delta, one delta-entity record per relevant entity,
// a remove record for anything that dropped out of relevance since the
// last frame, and a terminating entity number of 0.
func (h *History) BuildFrame(serverTime, viewerArea, viewerCluster int32, gm gamerules.Game, entities []Entity, ps msg.PlayerState) []byte {
	w := msg.NewWriter(512)
	pvs := gm.ClusterPVS(viewerCluster)

	deltaFrom := int32(-1)
	if h.haveBaseline {
		deltaFrom = h.frameNum
	}
	h.frameNum++
	h.sentAt[h.frameNum] = time.Now()
	msg.WriteFrameHeader(w, serverTime, deltaFrom, uint8(h.suppressCount), nil)
	h.suppressCount = 0
	msg.EncodeDeltaPlayerState(w, h.lastPS, ps)
	h.lastPS = ps

	stillVisible := make(map[int32]struct{}, len(entities))
	for _, e := range entities {
		relevant := e.AlwaysRelevant || (bitSet(pvs, e.Cluster) && gm.AreasConnected(viewerArea, e.Area))
		if !relevant {
			continue
		}
		stillVisible[e.Number] = struct{}{}

		baseline, hadBaseline := h.lastSent[e.Number]
		if !hadBaseline {
			baseline = msg.NullEntityState
		}
		msg.EncodeDeltaEntity(w, e.Number, baseline, e.State, false)
		h.lastSent[e.Number] = e.State
	}

	// Entities visible last frame but not this one must be explicitly
	// removed so the client doesn't keep rendering a stale copy.
	for num := range h.visible {
		if _, ok := stillVisible[num]; !ok {
			msg.EncodeDeltaEntity(w, num, msg.EntityState{}, msg.EntityState{}, true)
			delete(h.lastSent, num)
		}
	}
	h.visible = stillVisible
	h.haveBaseline = true
	w.WriteLong(0)

	return w.Bytes()
}

// ShouldCompress reports whether a frame payload is large enough to be
// worth DEFLATE-compressing into an svc_zpacket.
func ShouldCompress(payload []byte) bool { return len(payload) > zPacketThreshold }

// Compress DEFLATE-compresses payload, used both for svc_zpacket frame
// wrapping (via BuildZPacket) and for the download path's svc_zdownload.
func Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildZPacket wraps a frame payload in an svc_zpacket envelope: opcode,
// compressed length, uncompressed length, then the DEFLATE stream itself.
func BuildZPacket(payload []byte) ([]byte, error) {
	z, err := Compress(payload)
	if err != nil {
		return nil, err
	}
	w := msg.NewWriter(len(z) + 5)
	w.WriteByte_(SvcZPacket)
	w.WriteShort(int16(len(z)))
	w.WriteShort(int16(len(payload)))
	w.WriteData(z)
	return w.Bytes(), nil
}

// NoteNoDelta records a client requesting a full (non-delta) frame, used by
// the caller to count suspiciously frequent no-delta requests (a known
// exploit vector for forcing oversized frames).
func (h *History) NoteNoDelta() int {
	h.noDeltaAbuse++
	h.lastSent = make(map[int32]msg.EntityState)
	h.visible = make(map[int32]struct{})
	h.haveBaseline = false
	return h.noDeltaAbuse
}

func bitSet(bits []byte, n int32) bool {
	if n < 0 {
		return false
	}
	idx := int(n) / 8
	if idx >= len(bits) {
		return false
	}
	return bits[idx]&(1<<uint(n%8)) != 0
}
