package anticheat

import (
	"testing"

	"github.com/rs/xid"
)

func TestEncodeDecode_QueryReplyRoundTrip(t *testing.T) {
	q := Query{ID: xid.New(), ClientID: 42, Kind: "position", Payload: []byte("xyz")}
	wire := encodeQuery(q)
	if len(wire) == 0 {
		t.Fatal("encodeQuery produced no bytes")
	}

	reply := Reply{ID: q.ID, Allowed: true, Reason: "ok"}
	replyWire := encodeReplyForTest(reply)
	got, err := decodeReply(replyWire)
	if err != nil {
		t.Fatalf("decodeReply: %v", err)
	}
	if got.ID != reply.ID || got.Allowed != reply.Allowed || got.Reason != reply.Reason {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, reply)
	}
}

// encodeReplyForTest mirrors the backend's wire format so the test can
// exercise decodeReply without a live bridge connection.
func encodeReplyForTest(r Reply) []byte {
	buf := make([]byte, 0, 12+1+1+len(r.Reason))
	buf = append(buf, r.ID.Bytes()...)
	if r.Allowed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(len(r.Reason)))
	buf = append(buf, r.Reason...)
	return buf
}

func TestDecodeReply_RejectsShortFrame(t *testing.T) {
	if _, err := decodeReply([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on short frame")
	}
}
