// Package agreement implements the key-agreement handshake (C6, §4.6):
// both peers exchange an ephemeral P-256 point plus a salt share, derive
// a shared X-coordinate, and combine salts via XOR.
package agreement

import (
	"crypto/rand"
	"fmt"
	"io"

	"securestream/internal/crypto"
	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
)

const mechanismTag = "key-agreement"

// messageLen is the wire point (65 bytes, §4.6) plus a 32-byte salt share.
const messageLen = crypto.P256PointSize + domain.HandshakeSaltSize

// Result is the shared secret and combined salt both peers derive.
type Result struct {
	Salt   [domain.HandshakeSaltSize]byte
	Secret domain.SharedSecret
}

// Run performs the full duplex exchange over rw and returns the derived
// Z and combined salt. Both peers run the identical logic: there is no
// listener/initiator asymmetry in the key-agreement mechanism itself
// (§4.6); that distinction only matters afterwards, for isInitiator in
// keyschedule.Derive.
func Run(rw io.ReadWriter) (Result, error) {
	priv, err := crypto.GenerateP256KeyPair()
	if err != nil {
		return Result{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	pub := priv.PublicKey()

	var ownSalt [domain.HandshakeSaltSize]byte
	if _, err := rand.Read(ownSalt[:]); err != nil {
		return Result{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}

	outMsg := make([]byte, messageLen)
	copy(outMsg, crypto.EncodeP256Point(pub))
	copy(outMsg[crypto.P256PointSize:], ownSalt[:])

	writeErrCh := make(chan error, 1)
	go func() {
		_, err := rw.Write(outMsg)
		writeErrCh <- err
	}()

	inMsg := make([]byte, messageLen)
	if _, err := io.ReadFull(rw, inMsg); err != nil {
		<-writeErrCh
		return Result{}, errs.New(errs.KindHandshakeFailed, mechanismTag,
			fmt.Errorf("read peer message: %w", err))
	}
	if err := <-writeErrCh; err != nil {
		return Result{}, errs.New(errs.KindHandshakeFailed, mechanismTag,
			fmt.Errorf("write own message: %w", err))
	}

	peerPub, err := crypto.DecodeP256Point(inMsg[:crypto.P256PointSize])
	if err != nil {
		return Result{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	var peerSalt [domain.HandshakeSaltSize]byte
	copy(peerSalt[:], inMsg[crypto.P256PointSize:])

	z, err := crypto.P256SharedX(priv, peerPub)
	if err != nil {
		return Result{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}

	return Result{
		Salt:   crypto.XORSalt(ownSalt, peerSalt),
		Secret: z,
	}, nil
}
