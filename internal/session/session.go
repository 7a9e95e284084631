// Package session implements the session state machine (C7, §4.7): it
// drives a handshake to Established, runs the steady-state send/receive
// loops over a framed AEAD record stream, and performs in-band rekeys on
// either a wall-clock or counter trigger.
package session

import (
	"context"
	"crypto/rsa"
	"sync"
	"sync/atomic"
	"time"

	"securestream/internal/config"
	"securestream/internal/crypto"
	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
	"securestream/internal/protocol/nonce"
)

// Session orchestrates one end of a secure video link. Its send and
// receive loops run on separate goroutines sharing only the transport's
// disjoint read/write halves and the mutex-guarded key state, per §5.
type Session struct {
	transport domain.Transport
	cfg       config.Options
	obs       domain.Observer
	producer  domain.FrameProducer
	consumer  domain.FrameConsumer

	isInitiator bool
	rsaPriv     *rsa.PrivateKey // only used for key-transport listener role

	state atomic.Int32

	keyMu     sync.Mutex
	keys      domain.KeySchedule
	txAEAD    *crypto.AEAD
	rxAEAD    *crypto.AEAD
	txGen     *nonce.Generator
	rxGen     *nonce.Generator
	epochFrom time.Time

	writeMu sync.Mutex

	gate rekeyGate

	seq           atomic.Uint32
	rekeyRequests chan string
	peerRekeyMsg  chan controlMsg

	done     chan struct{}
	doneOnce sync.Once
}

type controlMsg struct {
	typ     domain.RecordType
	payload []byte
}

// New constructs a Session bound to transport. rsaPriv is used only when
// cfg.Mechanism is key-transport and this side plays the listener role;
// if it is nil there, the handshake generates a fresh cfg.RSABits
// keypair. Other callers may pass nil.
func New(transport domain.Transport, cfg config.Options, obs domain.Observer, producer domain.FrameProducer, consumer domain.FrameConsumer, rsaPriv *rsa.PrivateKey) *Session {
	if obs == nil {
		obs = domain.NewNoopObserver()
	}
	s := &Session{
		transport:     transport,
		cfg:           cfg,
		obs:           obs,
		producer:      producer,
		consumer:      consumer,
		isInitiator:   cfg.Role == domain.RoleInitiator,
		rsaPriv:       rsaPriv,
		rekeyRequests: make(chan string, 1),
		peerRekeyMsg:  make(chan controlMsg, 1),
		done:          make(chan struct{}),
	}
	s.gate.cond = sync.NewCond(&s.gate.mu)
	s.state.Store(int32(domain.StateInit))
	return s
}

// State reports the session's current lifecycle state.
func (s *Session) State() domain.SessionState {
	return domain.SessionState(s.state.Load())
}

func (s *Session) setState(st domain.SessionState) {
	s.state.Store(int32(st))
}

// Run drives the session from Init through handshake, confirm, and the
// steady-state loops until ctx is cancelled, the peer closes cleanly, or
// a fatal error occurs. It always leaves the session in Closed or Failed.
func (s *Session) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		s.setState(domain.StateFailed)
		return err
	}

	s.setState(domain.StateHandshaking)

	// The handshake and the mandatory Confirm exchange that follows it
	// share one bounded deadline (§5: "Handshake has a bounded timeout
	// ... after which the session transitions to Failed and both halves
	// of the transport are closed"), the same way group.go bounds its
	// pairwise handshake reads.
	handshakeDeadline := time.Now().Add(s.cfg.HandshakeTimeout)
	_ = s.transport.SetReadDeadline(handshakeDeadline)
	_ = s.transport.SetWriteDeadline(handshakeDeadline)

	if err := s.handshake(ctx); err != nil {
		err = classifyTimeout(err)
		s.setState(domain.StateFailed)
		s.obs.Error(string(errKind(err)), err)
		s.transport.Close()
		return err
	}
	if err := s.confirmExchange(); err != nil {
		err = classifyTimeout(err)
		s.setState(domain.StateFailed)
		s.obs.Error(string(errKind(err)), err)
		s.transport.Close()
		return err
	}

	_ = s.transport.SetReadDeadline(time.Time{})
	_ = s.transport.SetWriteDeadline(time.Time{})
	s.setState(domain.StateEstablished)
	s.epochFrom = time.Now()

	errCh := make(chan error, 3)
	runOne := func(fn func(context.Context) error) {
		err := fn(ctx)
		s.doneOnce.Do(func() { close(s.done) })
		errCh <- err
	}
	go runOne(s.sendLoop)
	go runOne(s.recvLoop)
	go runOne(s.rekeyCoordinator)

	var first error
	for i := 0; i < 3; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}

	s.txAEAD.Wipe()
	s.rxAEAD.Wipe()

	if first != nil {
		if errs.Is(first, errs.KindTransportClosed) && s.State() != domain.StateFailed {
			s.setState(domain.StateClosed)
			return nil
		}
		s.setState(domain.StateFailed)
		s.obs.Error(string(errKind(first)), first)
		return first
	}
	s.setState(domain.StateClosed)
	return nil
}

func errKind(err error) errs.Kind {
	var e *errs.Error
	if ee, ok := err.(*errs.Error); ok {
		e = ee
	}
	if e == nil {
		return errs.KindHandshakeFailed
	}
	return e.Kind
}

func (s *Session) currentMaxRecord() uint32 {
	if s.cfg.MaxRecordBytes == 0 {
		return 1 << 20
	}
	return s.cfg.MaxRecordBytes
}

// rekeyGate lets the rekey coordinator pause the send and receive loops
// between records while it performs a raw in-band handshake exchange
// directly on the shared transport.
type rekeyGate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	active bool
}

func (g *rekeyGate) waitIfPaused() {
	g.mu.Lock()
	for g.active {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

func (g *rekeyGate) begin() {
	g.mu.Lock()
	g.active = true
	g.mu.Unlock()
}

func (g *rekeyGate) end() {
	g.mu.Lock()
	g.active = false
	g.cond.Broadcast()
	g.mu.Unlock()
}
