package netio

import (
	"testing"

	"github.com/quakecore/q2srv/internal/addr"
)

func TestClassifyOOB(t *testing.T) {
	cases := []struct {
		data []byte
		want bool
	}{
		{[]byte{0xFF, 0xFF, 0xFF, 0xFF, 'p', 'i', 'n', 'g'}, true},
		{[]byte{0x01, 0xFF, 0xFF, 0xFF}, false},
		{[]byte{0xFF, 0xFF}, false},
		{nil, false},
	}
	for _, c := range cases {
		if got := classifyOOB(c.data); got != c.want {
			t.Errorf("classifyOOB(%v) = %v, want %v", c.data, got, c.want)
		}
	}
}

func TestLoopback_SendRecv(t *testing.T) {
	server, client := NewLoopback()
	defer server.Close()
	defer client.Close()

	if err := client.Send(addr.Address{}, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	pkts, err := server.RecvBatch(0)
	if err != nil {
		t.Fatalf("RecvBatch: %v", err)
	}
	if len(pkts) != 1 || string(pkts[0].Data) != "hello" {
		t.Fatalf("got %v, want one packet with data=hello", pkts)
	}
}
