package session_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"securestream/internal/config"
	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
	"securestream/internal/session"
)

// sliceProducer replays a fixed list of access units, then reports EOF.
type sliceProducer struct {
	mu   sync.Mutex
	aus  [][]byte
	ts   []uint64
	next int
}

func (p *sliceProducer) NextAU(ctx context.Context) ([]byte, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.aus) {
		return nil, 0, io.EOF
	}
	i := p.next
	p.next++
	return p.aus[i], p.ts[i], nil
}

// recordingConsumer captures every access unit handed to it.
type recordingConsumer struct {
	mu       sync.Mutex
	payloads [][]byte
	ts       []uint64
}

func (c *recordingConsumer) ConsumeAU(payload []byte, captureTSNano uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), payload...)
	c.payloads = append(c.payloads, cp)
	c.ts = append(c.ts, captureTSNano)
	return nil
}

func (c *recordingConsumer) snapshot() ([][]byte, []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...), append([]uint64(nil), c.ts...)
}

func baseOptions(role domain.Role) config.Options {
	o := config.Default()
	o.Mechanism = domain.MechanismKeyAgreement
	o.Role = role
	o.RekeyInterval = time.Hour
	return o
}

func TestKeyTransportHandshakeAndThreeFrames(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientProducer := &sliceProducer{
		aus: [][]byte{[]byte("A"), []byte("BB"), []byte("CCC")},
		ts:  []uint64{1000, 2000, 3000},
	}
	serverProducer := &sliceProducer{}
	clientConsumer := &recordingConsumer{}
	serverConsumer := &recordingConsumer{}

	clientOpts := config.Default()
	clientOpts.Mechanism = domain.MechanismKeyTransport
	clientOpts.Role = domain.RoleInitiator
	clientOpts.RekeyInterval = time.Hour
	serverOpts := config.Default()
	serverOpts.Mechanism = domain.MechanismKeyTransport
	serverOpts.Role = domain.RoleListener
	serverOpts.RekeyInterval = time.Hour

	clientSess := session.New(clientConn, clientOpts, nil, clientProducer, clientConsumer, nil)
	serverSess := session.New(serverConn, serverOpts, nil, serverProducer, serverConsumer, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var clientErr, serverErr error
	wg.Add(2)
	go func() { defer wg.Done(); clientErr = clientSess.Run(ctx) }()
	go func() { defer wg.Done(); serverErr = serverSess.Run(ctx) }()
	wg.Wait()

	if clientErr != nil {
		t.Fatalf("client session: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server session: %v", serverErr)
	}

	gotPayloads, gotTS := serverConsumer.snapshot()
	if len(gotPayloads) != 3 {
		t.Fatalf("expected 3 delivered AUs, got %d", len(gotPayloads))
	}
	wantPayloads := []string{"A", "BB", "CCC"}
	wantTS := []uint64{1000, 2000, 3000}
	for i := range wantPayloads {
		if string(gotPayloads[i]) != wantPayloads[i] {
			t.Errorf("AU %d payload = %q, want %q", i, gotPayloads[i], wantPayloads[i])
		}
		if gotTS[i] != wantTS[i] {
			t.Errorf("AU %d ts = %d, want %d", i, gotTS[i], wantTS[i])
		}
	}
}

func TestKeyAgreementHandshakeAndThreeFrames(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientProducer := &sliceProducer{
		aus: [][]byte{[]byte("A"), []byte("BB"), []byte("CCC")},
		ts:  []uint64{1000, 2000, 3000},
	}
	serverProducer := &sliceProducer{}
	clientConsumer := &recordingConsumer{}
	serverConsumer := &recordingConsumer{}

	clientOpts := baseOptions(domain.RoleInitiator)
	serverOpts := baseOptions(domain.RoleListener)

	clientSess := session.New(clientConn, clientOpts, nil, clientProducer, clientConsumer, nil)
	serverSess := session.New(serverConn, serverOpts, nil, serverProducer, serverConsumer, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var clientErr, serverErr error
	wg.Add(2)
	go func() { defer wg.Done(); clientErr = clientSess.Run(ctx) }()
	go func() { defer wg.Done(); serverErr = serverSess.Run(ctx) }()
	wg.Wait()

	if clientErr != nil {
		t.Fatalf("client session: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server session: %v", serverErr)
	}

	gotPayloads, gotTS := serverConsumer.snapshot()
	if len(gotPayloads) != 3 {
		t.Fatalf("expected 3 delivered AUs, got %d", len(gotPayloads))
	}
	wantPayloads := []string{"A", "BB", "CCC"}
	wantTS := []uint64{1000, 2000, 3000}
	for i := range wantPayloads {
		if string(gotPayloads[i]) != wantPayloads[i] {
			t.Errorf("AU %d payload = %q, want %q", i, gotPayloads[i], wantPayloads[i])
		}
		if gotTS[i] != wantTS[i] {
			t.Errorf("AU %d ts = %d, want %d", i, gotTS[i], wantTS[i])
		}
	}
}

// relayRawThenRecords copies the fixed-size raw key-agreement handshake
// message (rawLen bytes) verbatim, then forwards every subsequent
// length-prefixed record. tamperRecordIndex, if >= 0, flips the first
// ciphertext byte of the record at that 0-based index (0 is the mandatory
// Confirm record) before forwarding it.
func relayRawThenRecords(t *testing.T, dst io.Writer, src io.Reader, rawLen int, tamperRecordIndex int) {
	t.Helper()
	if _, err := io.CopyN(dst, src, int64(rawLen)); err != nil {
		return
	}
	for i := 0; ; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(src, lenBuf[:]); err != nil {
			return
		}
		total := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, total)
		if _, err := io.ReadFull(src, body); err != nil {
			return
		}
		if i == tamperRecordIndex && len(body) > 12 {
			body[12] ^= 0xFF // first ciphertext byte, just past the 12-byte nonce
		}
		if _, err := dst.Write(lenBuf[:]); err != nil {
			return
		}
		if _, err := dst.Write(body); err != nil {
			return
		}
	}
}

func TestTamperedRecordCausesAuthenticationFailure(t *testing.T) {
	clientNear, clientFar := net.Pipe()
	serverFar, serverNear := net.Pipe()
	defer clientNear.Close()
	defer clientFar.Close()
	defer serverFar.Close()
	defer serverNear.Close()

	const rawHandshakeLen = 65 + 32 // agreement.messageLen, duplicated here because it is unexported

	var relayWG sync.WaitGroup
	relayWG.Add(2)
	go func() { defer relayWG.Done(); relayRawThenRecords(t, serverFar, clientFar, rawHandshakeLen, 1) }()
	go func() { defer relayWG.Done(); relayRawThenRecords(t, clientFar, serverFar, rawHandshakeLen, -1) }()

	clientProducer := &sliceProducer{aus: [][]byte{[]byte("A")}, ts: []uint64{1000}}
	serverProducer := &sliceProducer{}
	clientConsumer := &recordingConsumer{}
	serverConsumer := &recordingConsumer{}

	clientOpts := baseOptions(domain.RoleInitiator)
	serverOpts := baseOptions(domain.RoleListener)

	clientSess := session.New(clientNear, clientOpts, nil, clientProducer, clientConsumer, nil)
	serverSess := session.New(serverNear, serverOpts, nil, serverProducer, serverConsumer, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var clientErr, serverErr error
	wg.Add(2)
	go func() { defer wg.Done(); clientErr = clientSess.Run(ctx) }()
	go func() { defer wg.Done(); serverErr = serverSess.Run(ctx) }()
	wg.Wait()

	_ = clientErr
	if !errs.Is(serverErr, errs.KindAuthenticationFailure) {
		t.Fatalf("expected server session to fail with KindAuthenticationFailure, got %v", serverErr)
	}
}

// countingObserver wraps a no-op Observer and counts RekeyStart calls;
// everything else is delegated unchanged.
type countingObserver struct {
	domain.Observer
	mu          sync.Mutex
	rekeyStarts int
}

func (c *countingObserver) RekeyStart(reason string) {
	c.mu.Lock()
	c.rekeyStarts++
	c.mu.Unlock()
}

func (c *countingObserver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rekeyStarts
}

func TestCounterTriggeredRekeyFiresTwiceOverTenAUs(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	aus := make([][]byte, 10)
	ts := make([]uint64, 10)
	for i := range aus {
		aus[i] = []byte{byte('a' + i)}
		ts[i] = uint64(1000 * (i + 1))
	}
	clientProducer := &sliceProducer{aus: aus, ts: ts}
	serverProducer := &sliceProducer{}
	clientConsumer := &recordingConsumer{}
	serverConsumer := &recordingConsumer{}

	clientOpts := baseOptions(domain.RoleInitiator)
	clientOpts.RekeyCounterThreshold = 4
	serverOpts := baseOptions(domain.RoleListener)
	serverOpts.RekeyCounterThreshold = 4

	clientObs := &countingObserver{Observer: domain.NewNoopObserver()}
	serverObs := &countingObserver{Observer: domain.NewNoopObserver()}

	clientSess := session.New(clientConn, clientOpts, clientObs, clientProducer, clientConsumer, nil)
	serverSess := session.New(serverConn, serverOpts, serverObs, serverProducer, serverConsumer, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var clientErr, serverErr error
	wg.Add(2)
	go func() { defer wg.Done(); clientErr = clientSess.Run(ctx) }()
	go func() { defer wg.Done(); serverErr = serverSess.Run(ctx) }()
	wg.Wait()

	if clientErr != nil {
		t.Fatalf("client session: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server session: %v", serverErr)
	}

	if got := clientObs.count(); got != 2 {
		t.Errorf("client observed %d rekey starts, want 2", got)
	}

	gotPayloads, gotTS := serverConsumer.snapshot()
	if len(gotPayloads) != 10 {
		t.Fatalf("expected 10 delivered AUs, got %d", len(gotPayloads))
	}
	for i := range aus {
		if string(gotPayloads[i]) != string(aus[i]) {
			t.Errorf("AU %d payload = %q, want %q", i, gotPayloads[i], aus[i])
		}
		if gotTS[i] != ts[i] {
			t.Errorf("AU %d ts = %d, want %d", i, gotTS[i], ts[i])
		}
	}
}

// TestConcurrentRekeyTieBreakResolvesWithoutDeadlock drives both peers to
// self-trigger a rekey after every single sealed record (threshold 1), so
// the two RekeyHello control records collide on the wire on essentially
// every round: this is the concurrent/simultaneous case resolveTieBreak's
// lexicographic token comparison exists to break (§4.7). If the tie-break
// ever failed to resolve deterministically, one side would block forever
// in resolveTieBreak waiting for a reply that never comes and the bounded
// context below would fire, failing the test.
func TestConcurrentRekeyTieBreakResolvesWithoutDeadlock(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	const n = 12
	clientAUs := make([][]byte, n)
	serverAUs := make([][]byte, n)
	ts := make([]uint64, n)
	for i := 0; i < n; i++ {
		clientAUs[i] = []byte{byte('A' + i)}
		serverAUs[i] = []byte{byte('a' + i)}
		ts[i] = uint64(1000 * (i + 1))
	}
	clientProducer := &sliceProducer{aus: clientAUs, ts: ts}
	serverProducer := &sliceProducer{aus: serverAUs, ts: ts}
	clientConsumer := &recordingConsumer{}
	serverConsumer := &recordingConsumer{}

	clientOpts := baseOptions(domain.RoleInitiator)
	clientOpts.RekeyCounterThreshold = 1
	serverOpts := baseOptions(domain.RoleListener)
	serverOpts.RekeyCounterThreshold = 1

	clientObs := &countingObserver{Observer: domain.NewNoopObserver()}
	serverObs := &countingObserver{Observer: domain.NewNoopObserver()}

	clientSess := session.New(clientConn, clientOpts, clientObs, clientProducer, clientConsumer, nil)
	serverSess := session.New(serverConn, serverOpts, serverObs, serverProducer, serverConsumer, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var clientErr, serverErr error
	wg.Add(2)
	go func() { defer wg.Done(); clientErr = clientSess.Run(ctx) }()
	go func() { defer wg.Done(); serverErr = serverSess.Run(ctx) }()
	wg.Wait()

	if clientErr != nil {
		t.Fatalf("client session: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server session: %v", serverErr)
	}

	if got := clientObs.count(); got < n/2 {
		t.Errorf("client observed %d rekey starts, want at least %d", got, n/2)
	}
	if got := serverObs.count(); got < n/2 {
		t.Errorf("server observed %d rekey starts, want at least %d", got, n/2)
	}

	deliveredFromClient, _ := serverConsumer.snapshot()
	if len(deliveredFromClient) != n {
		t.Fatalf("server delivered %d AUs from client, want %d", len(deliveredFromClient), n)
	}
	deliveredFromServer, _ := clientConsumer.snapshot()
	if len(deliveredFromServer) != n {
		t.Fatalf("client delivered %d AUs from server, want %d", len(deliveredFromServer), n)
	}
	for i := 0; i < n; i++ {
		if string(deliveredFromClient[i]) != string(clientAUs[i]) {
			t.Errorf("server received AU %d = %q, want %q", i, deliveredFromClient[i], clientAUs[i])
		}
		if string(deliveredFromServer[i]) != string(serverAUs[i]) {
			t.Errorf("client received AU %d = %q, want %q", i, deliveredFromServer[i], serverAUs[i])
		}
	}
}

// hangingProducer never returns an access unit; it simulates a peer that
// completes the handshake and then falls silent for the rest of the test.
type hangingProducer struct{}

func (hangingProducer) NextAU(ctx context.Context) ([]byte, uint64, error) {
	<-ctx.Done()
	return nil, 0, ctx.Err()
}

func TestSteadyStateIdleTimeoutFailsSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientConsumer := &recordingConsumer{}
	serverConsumer := &recordingConsumer{}

	clientOpts := baseOptions(domain.RoleInitiator)
	serverOpts := baseOptions(domain.RoleListener)
	serverOpts.IdleTimeout = 300 * time.Millisecond

	clientSess := session.New(clientConn, clientOpts, nil, hangingProducer{}, clientConsumer, nil)
	serverSess := session.New(serverConn, serverOpts, nil, hangingProducer{}, serverConsumer, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var clientErr, serverErr error
	wg.Add(2)
	go func() { defer wg.Done(); clientErr = clientSess.Run(ctx) }()
	go func() { defer wg.Done(); serverErr = serverSess.Run(ctx) }()
	wg.Wait()

	if !errs.Is(serverErr, errs.KindTimeout) {
		t.Fatalf("expected server session to fail with KindTimeout once cfg.IdleTimeout elapsed with no incoming records, got %v", serverErr)
	}
	_ = clientErr
}

// replayingConn wraps a net.Conn, duplicating one already-written record
// (by 0-based index among Write calls on this conn, the raw handshake
// message included) a second
// time immediately after it is first written, to simulate a replayed
// record arriving right after the original.
type replayingConn struct {
	net.Conn
	mu          sync.Mutex
	writeCount  int
	replayIndex int
}

func (c *replayingConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	idx := c.writeCount
	c.writeCount++
	var replay []byte
	if idx == c.replayIndex {
		replay = append([]byte(nil), b...)
	}
	c.mu.Unlock()

	n, err := c.Conn.Write(b)
	if err != nil {
		return n, err
	}
	if replay != nil {
		if _, err := c.Conn.Write(replay); err != nil {
			return n, err
		}
	}
	return n, nil
}

func TestReplayedRecordIsRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	// Write index 2 is the first data AU (index 0 is the raw key-agreement
	// handshake message, index 1 the mandatory Confirm); replaying it after
	// delivery must surface ReplayOrReorder.
	replayClient := &replayingConn{Conn: clientConn, replayIndex: 2}

	clientProducer := &sliceProducer{aus: [][]byte{[]byte("one"), []byte("two")}, ts: []uint64{1, 2}}
	serverProducer := &sliceProducer{}
	clientConsumer := &recordingConsumer{}
	serverConsumer := &recordingConsumer{}

	clientOpts := baseOptions(domain.RoleInitiator)
	serverOpts := baseOptions(domain.RoleListener)

	clientSess := session.New(replayClient, clientOpts, nil, clientProducer, clientConsumer, nil)
	serverSess := session.New(serverConn, serverOpts, nil, serverProducer, serverConsumer, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var serverErr error
	wg.Add(2)
	go func() { defer wg.Done(); clientSess.Run(ctx) }()
	go func() { defer wg.Done(); serverErr = serverSess.Run(ctx) }()
	wg.Wait()

	if !errs.Is(serverErr, errs.KindReplayOrReorder) {
		t.Fatalf("expected server session to fail with KindReplayOrReorder, got %v", serverErr)
	}
}
