package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// P256PointSize is the wire size of an uncompressed P-256 point
// (0x04 || X(32) || Y(32)), per §6.
const P256PointSize = 65

// GenerateP256KeyPair returns a fresh ephemeral P-256 key pair (§4.6).
func GenerateP256KeyPair() (*ecdh.PrivateKey, error) {
	return ecdh.P256().GenerateKey(rand.Reader)
}

// EncodeP256Point returns the uncompressed SEC1 encoding of pub.
func EncodeP256Point(pub *ecdh.PublicKey) []byte {
	return pub.Bytes()
}

// DecodeP256Point parses an uncompressed SEC1-encoded point, rejecting
// malformed encodings and points not on the curve (§4.6 failure modes).
func DecodeP256Point(b []byte) (*ecdh.PublicKey, error) {
	if len(b) != P256PointSize {
		return nil, fmt.Errorf("p256 point must be %d bytes, got %d", P256PointSize, len(b))
	}
	pub, err := ecdh.P256().NewPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("p256 point decode: %w", err)
	}
	return pub, nil
}

// P256SharedX computes the raw ECDH shared point and returns its
// X-coordinate as Z (§4.6 step 2). It fails on the identity point, which
// crypto/ecdh rejects as a point at infinity.
func P256SharedX(priv *ecdh.PrivateKey, peer *ecdh.PublicKey) ([]byte, error) {
	z, err := priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("p256 ecdh: %w", err)
	}
	return z, nil
}

// XORSalt combines two 32-byte salts commutatively (§4.6 step 3).
func XORSalt(a, b [32]byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}
