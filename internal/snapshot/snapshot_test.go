package snapshot

import (
	"testing"

	"github.com/quakecore/q2srv/internal/gamerules"
	"github.com/quakecore/q2srv/internal/msg"
)

func TestHistory_AckFrameReportsLatencyAndForgetsOlderEntries(t *testing.T) {
	gm := gamerules.NewStub(8)
	h := NewHistory()

	h.BuildFrame(0, 0, 0, gm, nil, msg.PlayerState{}) // frame 1
	h.BuildFrame(0, 0, 0, gm, nil, msg.PlayerState{}) // frame 2

	if _, ok := h.AckFrame(5); ok {
		t.Fatal("expected no latency for a frame never sent")
	}

	latency, ok := h.AckFrame(2)
	if !ok {
		t.Fatal("expected frame 2 to have a recorded send time")
	}
	if latency < 0 {
		t.Fatalf("latency = %v, want non-negative", latency)
	}
	if len(h.sentAt) != 0 {
		t.Fatalf("expected AckFrame(2) to forget frames 1 and 2, got %d left", len(h.sentAt))
	}
}

func TestBuildFrame_OnlyVisibleEntitiesIncluded(t *testing.T) {
	gm := gamerules.NewStub(64)
	h := NewHistory()

	ents := []Entity{
		{Number: 1, Cluster: 0, State: msg.EntityState{Number: 1, Frame: 1}},
		{Number: 2, Cluster: 0, State: msg.EntityState{Number: 2, Frame: 2}},
	}
	payload := h.BuildFrame(0, 0, 0, gm, ents, msg.PlayerState{})
	if len(payload) == 0 {
		t.Fatal("expected non-empty frame payload with visible entities")
	}
	if payload[0] != msg.SvcFrame {
		t.Fatalf("first byte = %d, want svc_frame opcode %d", payload[0], msg.SvcFrame)
	}
}

func TestBuildFrame_AlwaysRelevantBypassesPVSAndAreas(t *testing.T) {
	gm := &areaBlindStub{Stub: gamerules.NewStub(8)}
	h := NewHistory()

	ents := []Entity{{Number: 3, Cluster: 99, Area: 99, AlwaysRelevant: true, State: msg.EntityState{Number: 3}}}
	h.BuildFrame(0, 0, 0, gm, ents, msg.PlayerState{})
	if _, ok := h.visible[3]; !ok {
		t.Fatal("expected always-relevant entity to be included despite failing PVS/area checks")
	}
}

func TestBuildFrame_ExcludesEntityOutsideConnectedAreas(t *testing.T) {
	gm := &areaBlindStub{Stub: gamerules.NewStub(8)}
	h := NewHistory()

	ents := []Entity{{Number: 4, Cluster: 0, Area: 1, State: msg.EntityState{Number: 4}}}
	h.BuildFrame(0, 0, 0, gm, ents, msg.PlayerState{})
	if _, ok := h.visible[4]; ok {
		t.Fatal("expected entity in a disconnected area to be excluded")
	}
}

func TestBuildFrame_RemovesEntityThatLeavesVisibility(t *testing.T) {
	gm := gamerules.NewStub(64)
	h := NewHistory()

	ents := []Entity{{Number: 5, Cluster: 0, State: msg.EntityState{Number: 5, Frame: 9}}}
	h.BuildFrame(0, 0, 0, gm, ents, msg.PlayerState{})
	if _, ok := h.visible[5]; !ok {
		t.Fatal("entity 5 should be tracked as visible after first frame")
	}

	h.BuildFrame(0, 0, 0, gm, nil, msg.PlayerState{})
	if _, ok := h.visible[5]; ok {
		t.Fatal("entity 5 should no longer be tracked once absent from the entity list")
	}
	if _, ok := h.lastSent[5]; ok {
		t.Fatal("baseline for entity 5 should be cleared after removal")
	}
}

func TestBuildFrame_FirstFrameHasNoDeltaFrom(t *testing.T) {
	gm := gamerules.NewStub(8)
	h := NewHistory()

	payload := h.BuildFrame(0, 0, 0, gm, nil, msg.PlayerState{})
	r := msg.NewReader(payload)
	_, _ = r.ReadByte_() // opcode
	_, _ = r.ReadLong()  // server_time
	deltaFrom, _ := r.ReadLong()
	if deltaFrom != -1 {
		t.Fatalf("deltaFrom = %d, want -1 on the first frame ever sent", deltaFrom)
	}
}

func TestBuildFrame_SuppressCountResetsAfterBeingReported(t *testing.T) {
	gm := gamerules.NewStub(8)
	h := NewHistory()
	h.Suppress()
	h.Suppress()

	payload := h.BuildFrame(0, 0, 0, gm, nil, msg.PlayerState{})
	r := msg.NewReader(payload)
	_, _ = r.ReadByte_()
	_, _ = r.ReadLong()
	_, _ = r.ReadLong()
	suppress, _ := r.ReadByte_()
	if suppress != 2 {
		t.Fatalf("suppress_count = %d, want 2", suppress)
	}

	payload2 := h.BuildFrame(0, 0, 0, gm, nil, msg.PlayerState{})
	r2 := msg.NewReader(payload2)
	_, _ = r2.ReadByte_()
	_, _ = r2.ReadLong()
	_, _ = r2.ReadLong()
	suppress2, _ := r2.ReadByte_()
	if suppress2 != 0 {
		t.Fatalf("suppress_count = %d, want 0 after being reported once", suppress2)
	}
}

func TestShouldCompress_Threshold(t *testing.T) {
	small := make([]byte, zPacketThreshold-1)
	large := make([]byte, zPacketThreshold+1)
	if ShouldCompress(small) {
		t.Fatal("payload under threshold should not compress")
	}
	if !ShouldCompress(large) {
		t.Fatal("payload over threshold should compress")
	}
}

func TestCompress_ProducesSmallerOrValidOutput(t *testing.T) {
	payload := make([]byte, 1024)
	out, err := Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty compressed output")
	}
}

func TestBuildZPacket_WrapsWithOpcodeAndLengths(t *testing.T) {
	payload := make([]byte, 1024)
	out, err := BuildZPacket(payload)
	if err != nil {
		t.Fatalf("BuildZPacket: %v", err)
	}
	r := msg.NewReader(out)
	op, _ := r.ReadByte_()
	if op != SvcZPacket {
		t.Fatalf("opcode = %d, want %d", op, SvcZPacket)
	}
	compLen, _ := r.ReadShort()
	rawLen, _ := r.ReadShort()
	if int(rawLen) != len(payload) {
		t.Fatalf("uncompressed length = %d, want %d", rawLen, len(payload))
	}
	if r.Remaining() != int(compLen) {
		t.Fatalf("remaining bytes = %d, want compressed length %d", r.Remaining(), compLen)
	}
}

func TestNoteNoDelta_ClearsHistoryAndCounts(t *testing.T) {
	gm := gamerules.NewStub(64)
	h := NewHistory()
	h.BuildFrame(0, 0, 0, gm, []Entity{{Number: 1, Cluster: 0, State: msg.EntityState{Number: 1}}}, msg.PlayerState{})

	n := h.NoteNoDelta()
	if n != 1 {
		t.Fatalf("got count %d, want 1", n)
	}
	if len(h.lastSent) != 0 || len(h.visible) != 0 {
		t.Fatal("expected history cleared after no-delta request")
	}
	if h.haveBaseline {
		t.Fatal("expected next frame to be forced back to deltaFrom=-1")
	}
}

// areaBlindStub wraps Stub to report every area pair as disconnected except
// when both sides are the viewer's own area (0), exercising BuildFrame's
// areas_connected gate independently of PVS (Stub's PVS is always full).
type areaBlindStub struct{ *gamerules.Stub }

func (a *areaBlindStub) AreasConnected(area1, area2 int32) bool {
	return area1 == area2
}
