// Package relay implements the decrypt-then-re-encrypt session relay
// (C9, §4.9): a node that holds two independent session.Session values,
// upstream (facing the sender, decrypting) and downstream (facing the
// next hop, re-encrypting), and forwards only the cleartext AUs the
// upstream session's AEAD already authenticated. Upstream and downstream
// keys never share a handshake, so compromise of one leg does not
// compromise the other (§4.9).
package relay

import (
	"context"
	"io"

	"securestream/internal/config"
	"securestream/internal/domain"
	"securestream/internal/session"
)

// bridge is the FrameConsumer the upstream session feeds and the
// FrameProducer the downstream session drains. Only payloads that
// reached ConsumeAU ever cross it: a failed Open on the upstream session
// fails that session outright before ConsumeAU is called, so a bad
// record is never queued here (§4.9: "MUST NOT forward records that fail
// authentication").
type bridge struct {
	ch chan domain.AccessUnit
}

func newBridge() *bridge {
	return &bridge{ch: make(chan domain.AccessUnit, 8)}
}

func (b *bridge) ConsumeAU(payload []byte, captureTSNano uint64) error {
	cp := append([]byte(nil), payload...)
	b.ch <- domain.AccessUnit{Payload: cp, CaptureTSNano: captureTSNano}
	return nil
}

func (b *bridge) NextAU(ctx context.Context) ([]byte, uint64, error) {
	select {
	case au, ok := <-b.ch:
		if !ok {
			return nil, 0, io.EOF
		}
		return au.Payload, au.CaptureTSNano, nil
	case <-ctx.Done():
		return nil, 0, io.EOF
	}
}

func (b *bridge) close() { close(b.ch) }

// idleUpstream is the upstream session's FrameProducer. The relay never
// originates AUs of its own on the upstream leg — it only decrypts — so
// this blocks until the session is torn down, at which point it reports
// EOF so the upstream session sends a Goodbye instead of erroring out.
type idleUpstream struct{}

func (idleUpstream) NextAU(ctx context.Context) ([]byte, uint64, error) {
	<-ctx.Done()
	return nil, 0, io.EOF
}

// discardDownstream is the downstream session's FrameConsumer. The relay
// is one-directional (upstream sender to downstream peer); anything the
// downstream peer sends back is outside this spec's scope and is
// dropped rather than causing the relay to fail.
type discardDownstream struct{}

func (discardDownstream) ConsumeAU([]byte, uint64) error { return nil }

// Relay bridges one upstream session.Session to one downstream
// session.Session.
type Relay struct {
	Upstream   *session.Session
	Downstream *session.Session
	br         *bridge
}

// New constructs a Relay. upstreamTransport/upstreamCfg configure the
// session facing the sender (this node plays whatever role upstreamCfg
// names — typically listener); downstreamTransport/downstreamCfg
// configure the session facing the next hop (typically initiator). obs,
// if non-nil, is shared by both sessions.
func New(
	upstreamTransport domain.Transport, upstreamCfg config.Options,
	downstreamTransport domain.Transport, downstreamCfg config.Options,
	obs domain.Observer,
) *Relay {
	br := newBridge()
	up := session.New(upstreamTransport, upstreamCfg, obs, idleUpstream{}, br, nil)
	down := session.New(downstreamTransport, downstreamCfg, obs, br, discardDownstream{}, nil)
	return &Relay{Upstream: up, Downstream: down, br: br}
}

// Run drives both legs to completion, closing the bridge once the
// upstream leg ends so the downstream leg's producer observes EOF and
// sends its own Goodbye rather than blocking on AUs that will never
// arrive. It returns the upstream error if the upstream leg failed,
// otherwise the downstream error.
func (r *Relay) Run(ctx context.Context) error {
	upErrCh := make(chan error, 1)
	downErrCh := make(chan error, 1)

	go func() {
		err := r.Upstream.Run(ctx)
		r.br.close()
		upErrCh <- err
	}()
	go func() {
		downErrCh <- r.Downstream.Run(ctx)
	}()

	upErr := <-upErrCh
	downErr := <-downErrCh
	if upErr != nil {
		return upErr
	}
	return downErr
}
