// Package keyschedule implements C4 (§4.4): HKDF-SHA256 expansion of a
// handshake's shared secret Z and salt into two directional AEAD keys
// plus their nonce bases.
package keyschedule

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"securestream/internal/crypto"
	"securestream/internal/domain"
)

// infoLabel is the fixed domain-separation label fed to HKDF (§4.4).
var infoLabel = []byte("securestream|session-keys|v1")

// okmLen is 16 (K_A→B) + 8 (nonce_base_A→B) + 16 (K_B→A) + 8
// (nonce_base_B→A) = 48 bytes.
const okmLen = 2*crypto.KeySize + 2*domain.NonceBaseSize

// Derive expands Z and salt into directional keys for both peers.
// isInitiator selects which half of the output this caller keeps as TX/RX: the
// initiator is "A" per §4.4 ("the connection initiator is A"). Z is
// wiped before Derive returns.
func Derive(z domain.SharedSecret, salt [domain.HandshakeSaltSize]byte, isInitiator bool) (domain.KeySchedule, error) {
	defer crypto.Wipe(z)

	r := hkdf.New(sha256.New, z, salt[:], infoLabel)
	okm := make([]byte, okmLen)
	if _, err := io.ReadFull(r, okm); err != nil {
		return domain.KeySchedule{}, fmt.Errorf("keyschedule: hkdf expand: %w", err)
	}
	defer crypto.Wipe(okm)

	var aToB, bToA domain.DirectionalKeys
	copy(aToB.Key[:], okm[0:16])
	copy(aToB.NonceBase[:], okm[16:24])
	copy(bToA.Key[:], okm[24:40])
	copy(bToA.NonceBase[:], okm[40:48])

	if isInitiator {
		return domain.KeySchedule{TX: aToB, RX: bToA}, nil
	}
	return domain.KeySchedule{TX: bToA, RX: aToB}, nil
}
