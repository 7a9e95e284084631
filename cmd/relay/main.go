// Command relay runs a standalone decrypt-then-re-encrypt session relay
// (C9, §4.9): it accepts one upstream connection, dials one downstream
// peer, and forwards authenticated cleartext AUs between two
// independently keyed sessions. Placed as its own binary the way the
// teacher keeps its relay separate from the main CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"

	"securestream/internal/config"
	"securestream/internal/domain"
	"securestream/internal/observer"
	"securestream/internal/protocol/errs"
	"securestream/internal/relay"
)

func main() {
	upstreamAddr := flag.String("upstream-listen", ":9000", "address to accept the sender on")
	downstreamAddr := flag.String("downstream-connect", "", "address of the next hop to dial")
	mechanism := flag.String("mechanism", string(domain.MechanismKeyAgreement), "key-transport | key-agreement")
	flag.Parse()

	if *downstreamAddr == "" {
		fmt.Fprintln(os.Stderr, "relay: -downstream-connect is required")
		os.Exit(errs.KindConfigError.ExitCode())
	}

	log := observer.New(slog.Default())

	upCfg := config.Default()
	upCfg.Mechanism = domain.Mechanism(*mechanism)
	upCfg.Role = domain.RoleListener

	downCfg := config.Default()
	downCfg.Mechanism = domain.Mechanism(*mechanism)
	downCfg.Role = domain.RoleInitiator

	if err := upCfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errs.KindConfigError.ExitCode())
	}

	ln, err := net.Listen("tcp", *upstreamAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "relay: listen:", err)
		os.Exit(errs.KindTransportClosed.ExitCode())
	}
	defer ln.Close()
	fmt.Fprintf(os.Stderr, "relay: accepting upstream on %s, forwarding to %s\n", ln.Addr(), *downstreamAddr)

	upstreamConn, err := ln.Accept()
	if err != nil {
		fmt.Fprintln(os.Stderr, "relay: accept:", err)
		os.Exit(errs.KindTransportClosed.ExitCode())
	}
	defer upstreamConn.Close()

	dialCtx, cancel := context.WithTimeout(context.Background(), upCfg.HandshakeTimeout)
	downstreamConn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", *downstreamAddr)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "relay: dial downstream:", err)
		os.Exit(errs.KindTransportClosed.ExitCode())
	}
	defer downstreamConn.Close()

	r := relay.New(upstreamConn, upCfg, downstreamConn, downCfg, log)

	if err := r.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		if e, ok := err.(*errs.Error); ok {
			os.Exit(e.Kind.ExitCode())
		}
		os.Exit(1)
	}
}
