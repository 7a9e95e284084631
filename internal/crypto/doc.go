// Package crypto implements the session protocol's cryptographic
// primitives (§4.2, §4.5, §4.6): the AEAD context (C2), the RSA
// key-transport wrap used by the key-transport handshake (C5), and the
// P-256 Diffie-Hellman used by the key-agreement handshake (C6).
//
// # Notes
//
// All secret-carrying byte slices are wiped with Wipe once no longer
// needed, following the teacher's memzero discipline. Sealer/Opener are a
// capability abstraction: NewAEAD picks a backend labeled hardware or
// portable via a golang.org/x/sys/cpu feature probe, but both labels
// build on crypto/aes + cipher.NewGCM, since Go's own AES implementation
// already dispatches to AES-NI/ARMv8 crypto extensions at runtime when
// present. The probe only affects what NewAEAD reports to the Observer
// hook — never the sealed/opened bytes.
package crypto
