package msg

import "testing"

func TestDeltaUserCmd_RoundTrip(t *testing.T) {
	prev := UserCmd{}
	cmd := UserCmd{
		Angles:     [3]float32{90, 45, 0},
		Forward:    400,
		Side:       -200,
		Up:         0,
		Buttons:    1,
		Msec:       16,
		Impulse:    5,
		LightLevel: 200,
	}
	w := NewWriter(32)
	EncodeDeltaUserCmd(w, prev, cmd)
	r := NewReader(w.Bytes())
	got, err := DecodeDeltaUserCmd(r, prev)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != cmd {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, cmd)
	}
}

func TestDeltaUserCmd_UnchangedFieldsCarryFromPrev(t *testing.T) {
	prev := UserCmd{Forward: 100, Side: 50, Msec: 10}
	cmd := prev
	cmd.Msec = 20 // msec is always written regardless of mask

	w := NewWriter(16)
	EncodeDeltaUserCmd(w, prev, cmd)
	r := NewReader(w.Bytes())
	got, err := DecodeDeltaUserCmd(r, prev)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Forward != prev.Forward || got.Side != prev.Side {
		t.Fatalf("unchanged fields not preserved: %+v", got)
	}
	if got.Msec != 20 {
		t.Fatalf("msec not updated: %+v", got)
	}
}

func FuzzDecodeDeltaUserCmd(f *testing.F) {
	w := NewWriter(16)
	EncodeDeltaUserCmd(w, UserCmd{}, UserCmd{Forward: 1, Msec: 8})
	f.Add(w.Bytes())
	f.Fuzz(func(t *testing.T, data []byte) {
		r := NewReader(data)
		_, _ = DecodeDeltaUserCmd(r, UserCmd{})
	})
}
