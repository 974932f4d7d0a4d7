package anticheat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// hello is exchanged by both ends of the bridge connection before any query
// traffic flows.
const hello = "Q2ANTICHEATv1"

// Handshake performs the bridge's mutual hello exchange with a deadline.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("anticheat: set deadline: %w", err)
	}
	defer c.SetDeadline(time.Time{})

	errCh := make(chan error, 2)

	go func() {
		_, err := io.WriteString(c, hello)
		errCh <- err
	}()

	go func() {
		buf := make([]byte, len(hello))
		_, err := io.ReadFull(c, buf)
		if err == nil && string(buf) != hello {
			err = errors.New("bad hello")
		}
		errCh <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("anticheat: handshake: %w", err)
			}
		}
	}
	return nil
}
