package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// NonceSize is the width of the 96-bit AEAD nonce (§3).
const NonceSize = 12

// KeySize is the width of a directional AEAD key (§3: 128-bit keys).
const KeySize = 16

// Sealer authenticates and encrypts.
type Sealer interface {
	Seal(nonce, aad, plaintext []byte) (ciphertext []byte, err error)
}

// Opener authenticates and decrypts.
type Opener interface {
	Open(nonce, aad, ciphertext []byte) (plaintext []byte, err error)
}

// AEAD is a key-bound authenticated cipher context (C2). A single AEAD
// instance is used only in one direction: sessions hold one for TX and
// one for RX so that a bug in the send path can never open a receive-side
// ciphertext with the wrong key.
type AEAD struct {
	gcm     cipher.AEAD
	key     [KeySize]byte
	backend AEADBackend
	wiped   bool
}

// NewAEAD constructs an AEAD context bound to key. The backend label
// reports whether a hardware AES extension was detected; see doc.go for
// why this never changes the sealed/opened bytes.
func NewAEAD(key [KeySize]byte) (*AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("aead: new gcm: %w", err)
	}
	backend := BackendPortableAES
	if probeHardwareAES() {
		backend = BackendHardwareAES
	}
	return &AEAD{gcm: gcm, key: key, backend: backend}, nil
}

// Backend reports which capability this context was constructed under.
func (a *AEAD) Backend() AEADBackend { return a.backend }

// Seal authenticates and encrypts plaintext under nonce and aad, returning
// ciphertext with the tag appended.
func (a *AEAD) Seal(nonce, aad, plaintext []byte) ([]byte, error) {
	if a.wiped {
		return nil, fmt.Errorf("aead: use after wipe")
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("aead: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	return a.gcm.Seal(nil, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext under nonce and aad. A
// failure here is the spec's AuthenticationFailure and must be treated as
// fatal by the caller — see internal/protocol/errs.
func (a *AEAD) Open(nonce, aad, ciphertext []byte) ([]byte, error) {
	if a.wiped {
		return nil, fmt.Errorf("aead: use after wipe")
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("aead: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	pt, err := a.gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("aead: open: %w", err)
	}
	return pt, nil
}

// Wipe zeroes the key material. The context must not be used afterward.
func (a *AEAD) Wipe() {
	Wipe(a.key[:])
	a.wiped = true
}

var (
	_ Sealer = (*AEAD)(nil)
	_ Opener = (*AEAD)(nil)
)
