package transport_test

import (
	"bytes"
	"io"
	"testing"

	"securestream/internal/crypto"
	"securestream/internal/protocol/errs"
	"securestream/internal/protocol/handshake/transport"
)

// pipe is an io.ReadWriter that lets two goroutines exchange bytes
// through a pair of buffers without a real network connection.
type pipe struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipe) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.w.Write(b) }

func newPipePair() (a, b *pipe) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return &pipe{r: r1, w: w2}, &pipe{r: r2, w: w1}
}

func TestRoundTripDerivesMatchingSecret(t *testing.T) {
	priv, err := crypto.GenerateRSAKeyPair(2048)
	if err != nil {
		t.Fatalf("GenerateRSAKeyPair: %v", err)
	}

	listenerSide, initiatorSide := newPipePair()

	listenerResCh := make(chan transport.ListenerResult, 1)
	listenerErrCh := make(chan error, 1)
	go func() {
		res, err := transport.RunListener(listenerSide, priv)
		listenerResCh <- res
		listenerErrCh <- err
	}()

	initRes, err := transport.RunInitiator(initiatorSide)
	if err != nil {
		t.Fatalf("RunInitiator: %v", err)
	}
	listenerRes := <-listenerResCh
	if err := <-listenerErrCh; err != nil {
		t.Fatalf("RunListener: %v", err)
	}

	if listenerRes.Salt != initRes.Salt {
		t.Fatalf("salt mismatch: listener %x initiator %x", listenerRes.Salt, initRes.Salt)
	}
	if !bytes.Equal(listenerRes.Secret, initRes.Secret) {
		t.Fatalf("secret mismatch: listener %x initiator %x", listenerRes.Secret, initRes.Secret)
	}
}

func TestRunInitiatorRejectsOversizedPublicKey(t *testing.T) {
	buf := &bytes.Buffer{}
	oversized := make([]byte, crypto.MaxRSAPublicKeyDER+1)
	var lenBuf [4]byte
	putUint32BE(lenBuf[:], uint32(len(oversized)))
	buf.Write(lenBuf[:])
	buf.Write(oversized)

	_, err := transport.RunInitiator(buf)
	if !errs.Is(err, errs.KindHandshakeFailed) {
		t.Fatalf("expected KindHandshakeFailed, got %v", err)
	}
}

func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
