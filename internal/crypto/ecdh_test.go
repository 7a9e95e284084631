package crypto_test

import (
	"bytes"
	"testing"

	"securestream/internal/crypto"
)

// TestP256SharedXToleratesIdenticalEphemeralKeysOnBothSides mirrors the
// handshake scenario where some external source of entropy hands both
// peers the same ephemeral scalar: the agreement math only needs a
// valid, non-identity point, not a unique one, so both sides must still
// derive the same Z.
func TestP256SharedXToleratesIdenticalEphemeralKeysOnBothSides(t *testing.T) {
	shared, err := crypto.GenerateP256KeyPair()
	if err != nil {
		t.Fatalf("generate shared ephemeral key: %v", err)
	}
	pub := shared.PublicKey()

	zFromA, err := crypto.P256SharedX(shared, pub)
	if err != nil {
		t.Fatalf("side A shared X: %v", err)
	}
	zFromB, err := crypto.P256SharedX(shared, pub)
	if err != nil {
		t.Fatalf("side B shared X: %v", err)
	}

	if !bytes.Equal(zFromA, zFromB) {
		t.Fatalf("Z mismatch with identical ephemeral keys: %x vs %x", zFromA, zFromB)
	}
	if len(zFromA) == 0 {
		t.Fatal("derived Z is empty")
	}
}
