package anticheat

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/xid"
)

// encodeQuery serializes a Query as: 12-byte xid, 8-byte client id,
// 1-byte kind length + kind bytes, 4-byte payload length + payload.
func encodeQuery(q Query) []byte {
	buf := make([]byte, 0, 12+8+1+len(q.Kind)+4+len(q.Payload))
	buf = append(buf, q.ID.Bytes()...)
	var clientID [8]byte
	binary.BigEndian.PutUint64(clientID[:], q.ClientID)
	buf = append(buf, clientID[:]...)
	buf = append(buf, byte(len(q.Kind)))
	buf = append(buf, q.Kind...)
	var plen [4]byte
	binary.BigEndian.PutUint32(plen[:], uint32(len(q.Payload)))
	buf = append(buf, plen[:]...)
	buf = append(buf, q.Payload...)
	return buf
}

// decodeReply parses the backend's wire format: 12-byte xid, 1-byte
// allowed flag, 1-byte reason length + reason bytes.
func decodeReply(b []byte) (Reply, error) {
	if len(b) < 12+1+1 {
		return Reply{}, fmt.Errorf("anticheat: reply too short (%d bytes)", len(b))
	}
	id, err := xid.FromBytes(b[0:12])
	if err != nil {
		return Reply{}, fmt.Errorf("anticheat: bad reply id: %w", err)
	}
	allowed := b[12] != 0
	rlen := int(b[13])
	if len(b) < 14+rlen {
		return Reply{}, fmt.Errorf("anticheat: truncated reply reason")
	}
	reason := string(b[14 : 14+rlen])
	return Reply{ID: id, Allowed: allowed, Reason: reason}, nil
}
