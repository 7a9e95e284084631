package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
)

// MaxRSAPublicKeyDER bounds the DER-encoded public key the initiator will
// accept from the listener (§4.5, §6: "|pub_der| ≤ 16 KiB").
const MaxRSAPublicKeyDER = 16 * 1024

// MaxRSAWrappedLen bounds the OAEP-wrapped payload (§6: "|wrapped| ≤ 1
// KiB").
const MaxRSAWrappedLen = 1024

// GenerateRSAKeyPair returns a fresh RSA key pair of the given bit size
// (§4.5: "at least 2048 bits").
func GenerateRSAKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits < 2048 {
		return nil, fmt.Errorf("rsa key size %d below minimum 2048", bits)
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

// MarshalRSAPublicKey DER-encodes a public key as SubjectPublicKeyInfo.
func MarshalRSAPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}

// ParseRSAPublicKey decodes a SubjectPublicKeyInfo DER blob, rejecting
// anything over MaxRSAPublicKeyDER or not an RSA key.
func ParseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	if len(der) > MaxRSAPublicKeyDER {
		return nil, fmt.Errorf("rsa public key DER too large: %d bytes", len(der))
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse pkix public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaPub, nil
}

// WrapKeyTransportSecret wraps plaintext (salt || prekey, §4.5 step 2)
// under pub with RSA-OAEP, SHA-256 as both MGF and label hash, no label.
func WrapKeyTransportSecret(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa-oaep wrap: %w", err)
	}
	return wrapped, nil
}

// UnwrapKeyTransportSecret reverses WrapKeyTransportSecret.
func UnwrapKeyTransportSecret(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	if len(wrapped) > MaxRSAWrappedLen {
		return nil, fmt.Errorf("rsa wrapped payload too large: %d bytes", len(wrapped))
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa-oaep unwrap: %w", err)
	}
	return plaintext, nil
}
