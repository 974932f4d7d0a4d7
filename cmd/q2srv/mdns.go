package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType advertises q2srv the way UT/Quake-lineage servers announce
// themselves on a LAN, via mDNS rather than a broadcast ping sweep.
const mdnsServiceType = "_q2srv._udp"

func startMDNS(ctx context.Context, cfg *cliConfig, port int) (func(), error) {
	if !cfg.AdvertiseMDNS {
		return func() {}, nil
	}
	instance := cfg.Hostname
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("q2srv-%s", host)
	}
	meta := []string{
		"hostname=" + cfg.Hostname,
		"gamedir=" + cfg.GameDir,
		"version=" + buildVersion,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
