// Package transport implements the key-transport handshake (C5, §4.5): a
// listener publishes an RSA public key, and the initiator wraps a
// randomly sampled salt+prekey under it with RSA-OAEP.
package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"io"

	"securestream/internal/crypto"
	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
)

const mechanismTag = "key-transport"

// secretLen is 32 bytes of salt plus 16 bytes of prekey (§4.5 step 2).
const secretLen = domain.HandshakeSaltSize + 16

// ListenerResult is what the listener side derives.
type ListenerResult struct {
	Salt   [domain.HandshakeSaltSize]byte
	Secret domain.SharedSecret // the prekey, wiped by caller after use
}

// RunListener publishes priv's public key on rw, then reads and unwraps
// the initiator's wrapped secret. priv stays owned by the caller:
// RunListener neither retains nor discards it.
func RunListener(rw io.ReadWriter, priv *rsa.PrivateKey) (ListenerResult, error) {
	pubDER, err := crypto.MarshalRSAPublicKey(&priv.PublicKey)
	if err != nil {
		return ListenerResult{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	if err := writeLenPrefixed(rw, pubDER); err != nil {
		return ListenerResult{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}

	wrapped, err := readLenPrefixed(rw, crypto.MaxRSAWrappedLen)
	if err != nil {
		return ListenerResult{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	plaintext, err := crypto.UnwrapKeyTransportSecret(priv, wrapped)
	if err != nil {
		return ListenerResult{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	defer crypto.Wipe(plaintext)
	if len(plaintext) != secretLen {
		return ListenerResult{}, errs.New(errs.KindHandshakeFailed, mechanismTag,
			fmt.Errorf("unwrapped secret has wrong length %d", len(plaintext)))
	}

	var res ListenerResult
	copy(res.Salt[:], plaintext[:domain.HandshakeSaltSize])
	res.Secret = append(domain.SharedSecret(nil), plaintext[domain.HandshakeSaltSize:]...)
	return res, nil
}

// InitiatorResult mirrors ListenerResult for the initiator side.
type InitiatorResult struct {
	Salt   [domain.HandshakeSaltSize]byte
	Secret domain.SharedSecret
}

// RunInitiator reads the listener's public key from rw, samples a fresh
// salt+prekey, wraps it under that key, and writes the wrapped payload.
func RunInitiator(rw io.ReadWriter) (InitiatorResult, error) {
	pubDER, err := readLenPrefixed(rw, crypto.MaxRSAPublicKeyDER)
	if err != nil {
		return InitiatorResult{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	pub, err := crypto.ParseRSAPublicKey(pubDER)
	if err != nil {
		return InitiatorResult{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}

	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return InitiatorResult{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	defer crypto.Wipe(secret)

	wrapped, err := crypto.WrapKeyTransportSecret(pub, secret)
	if err != nil {
		return InitiatorResult{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	if err := writeLenPrefixed(rw, wrapped); err != nil {
		return InitiatorResult{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}

	var res InitiatorResult
	copy(res.Salt[:], secret[:domain.HandshakeSaltSize])
	res.Secret = append(domain.SharedSecret(nil), secret[domain.HandshakeSaltSize:]...)
	return res, nil
}

func writeLenPrefixed(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

func readLenPrefixed(r io.Reader, max int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > max {
		return nil, fmt.Errorf("payload length %d exceeds bound %d", n, max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return buf, nil
}
