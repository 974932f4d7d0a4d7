package anticheat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestAsyncTx_SendsInOrder(t *testing.T) {
	var got []int
	done := make(chan struct{})
	tx := NewAsyncTx(context.Background(), 4, func(v int) error {
		got = append(got, v)
		if len(got) == 3 {
			close(done)
		}
		return nil
	}, Hooks[int]{})
	defer tx.Close()

	for i := 0; i < 3; i++ {
		if err := tx.Send(i); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sends")
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got %v, want sequential 0..2", got)
		}
	}
}

func TestAsyncTx_DropHookOnFullBuffer(t *testing.T) {
	block := make(chan struct{})
	var drops atomic.Int32
	tx := NewAsyncTx(context.Background(), 1, func(v int) error {
		<-block
		return nil
	}, Hooks[int]{OnDrop: func(int) error { drops.Add(1); return nil }})
	defer func() {
		close(block)
		tx.Close()
	}()

	// First send is picked up by the worker and blocks on <-block.
	_ = tx.Send(1)
	time.Sleep(20 * time.Millisecond)
	// Second fills the buffer, third should drop.
	_ = tx.Send(2)
	_ = tx.Send(3)

	if drops.Load() == 0 {
		t.Fatal("expected at least one drop once buffer is full")
	}
}

func TestAsyncTx_SendAfterCloseFails(t *testing.T) {
	tx := NewAsyncTx(context.Background(), 1, func(int) error { return nil }, Hooks[int]{})
	tx.Close()
	if err := tx.Send(1); err != ErrAsyncTxClosed {
		t.Fatalf("got %v, want ErrAsyncTxClosed", err)
	}
}
