// SPDX-License-Identifier: MIT

// Package mdnsadv advertises the engine's HTTP control/stream surface on
// the local network as a suture.Service, so discovery failure (no
// multicast route, firewalled segment) never takes the engine down with
// it.
package mdnsadv

import (
	"context"
	"log/slog"
	"net"

	"github.com/libp2p/zeroconf/v2"
)

const (
	instance = "StageView"
	service  = "_http._tcp"
	domain   = "local."
)

// Advertiser registers the mDNS service record for Serve's lifetime and
// unregisters it when ctx is cancelled.
type Advertiser struct {
	port int
	log  *slog.Logger
}

// New returns an Advertiser for api_port.
func New(apiPort int, log *slog.Logger) *Advertiser {
	return &Advertiser{port: apiPort, log: log}
}

// Serve implements suture.Service. Registration failure is logged and
// treated as a clean exit rather than an error: mDNS is advertising, not
// load-bearing, and must never prevent the rest of the engine from
// running.
func (a *Advertiser) Serve(ctx context.Context) error {
	var server *zeroconf.Server
	var err error
	if ip := primaryOutboundIPv4(); ip != "" {
		a.log.Info("advertising mdns service", "instance", instance, "host", "stageview.local.", "addr", ip, "port", a.port)
		server, err = zeroconf.RegisterProxy(instance, service, domain, a.port, "stageview", []string{ip}, nil, nil)
	} else {
		server, err = zeroconf.Register(instance, service, domain, a.port, nil, nil)
	}
	if err != nil {
		a.log.Warn("mdns registration failed, continuing without advertisement", "error", err)
		<-ctx.Done()
		return nil
	}
	defer server.Shutdown()

	<-ctx.Done()
	return nil
}

// primaryOutboundIPv4 finds the local address that would be used to reach
// the public internet, by opening (never writing to) a UDP socket toward
// a well-known public address. This never sends a packet; UDP "connect"
// only binds a local route.
func primaryOutboundIPv4() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
