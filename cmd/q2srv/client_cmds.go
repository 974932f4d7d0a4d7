package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/quakecore/q2srv/internal/netio"
)

// queryOOB opens a short-lived UDP socket, sends an OOB command to target,
// and returns the first reply's payload (marker stripped). These
// subcommands are thin clients over the exact wire protocol
// internal/dispatch implements server-side — useful for admins poking a
// running server without a full game client.
func queryOOB(target, command string, timeout time.Duration) (string, error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	pkt := append(append([]byte{}, netio.OOBMarker[:]...), []byte(command)...)
	if _, err := conn.Write(pkt); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("no reply from %s: %w", target, err)
	}
	if n < 4 {
		return "", fmt.Errorf("short reply from %s", target)
	}
	return string(buf[4:n]), nil
}

func newStatusCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status <host:port>",
		Short: "Query a running server's status over the OOB protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := queryOOB(args[0], "status", timeout)
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Reply wait timeout")
	return cmd
}

func newPingCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ping <host:port>",
		Short: "Send an OOB ping and report round-trip time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if _, err := queryOOB(args[0], "ping", timeout); err != nil {
				return err
			}
			fmt.Printf("ack from %s in %s\n", args[0], time.Since(start))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Reply wait timeout")
	return cmd
}

func newKickCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "kick <host:port> <rcon-password> <client-id>",
		Short: "Kick a client via the server's rcon OOB command",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := fmt.Sprintf("rcon %s kick %s", args[1], args[2])
			reply, err := queryOOB(args[0], command, timeout)
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Reply wait timeout")
	return cmd
}

func newFSFlushCacheCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "fsflushcache <host:port> <rcon-password>",
		Short: "Ask a running server to flush its virtual filesystem path cache",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := fmt.Sprintf("rcon %s fsflushcache", args[1])
			reply, err := queryOOB(args[0], command, timeout)
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Reply wait timeout")
	return cmd
}
