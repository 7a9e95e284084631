package agreement_test

import (
	"bytes"
	"io"
	"testing"

	"securestream/internal/crypto"
	"securestream/internal/domain"
	"securestream/internal/protocol/handshake/agreement"
)

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

func TestRunDerivesMatchingSecretAndSalt(t *testing.T) {
	sideA, sideB := newPipePair()

	type outcome struct {
		res agreement.Result
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		res, err := agreement.Run(sideB)
		resCh <- outcome{res, err}
	}()

	resA, errA := agreement.Run(sideA)
	if errA != nil {
		t.Fatalf("Run(sideA): %v", errA)
	}
	outB := <-resCh
	if outB.err != nil {
		t.Fatalf("Run(sideB): %v", outB.err)
	}

	if resA.Salt != outB.res.Salt {
		t.Fatalf("salt mismatch: a %x b %x", resA.Salt, outB.res.Salt)
	}
	if !bytes.Equal(resA.Secret, outB.res.Secret) {
		t.Fatalf("secret mismatch: a %x b %x", resA.Secret, outB.res.Secret)
	}
	if len(resA.Secret) == 0 {
		t.Fatal("derived secret is empty")
	}
}

func TestRunRejectsTruncatedPeerPoint(t *testing.T) {
	// messageLen is unexported; crypto.P256PointSize + domain.HandshakeSaltSize
	// duplicates it here, the same way session_test.go's rawHandshakeLen does.
	const messageLen = crypto.P256PointSize + domain.HandshakeSaltSize

	r, w := io.Pipe()
	go func() {
		w.Write(make([]byte, messageLen-1))
		w.Close()
	}()
	_, err := agreement.Run(&halfDuplex{r: r})
	if err == nil {
		t.Fatal("expected error on truncated peer message")
	}
}

// halfDuplex discards writes so Run's read side can be exercised alone.
type halfDuplex struct {
	r io.Reader
}

func (h *halfDuplex) Read(b []byte) (int, error)  { return h.r.Read(b) }
func (h *halfDuplex) Write(b []byte) (int, error) { return len(b), nil }
