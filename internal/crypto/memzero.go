package crypto

import "runtime"

// Wipe zeroes b. Callers use it on every shared secret and derived key
// this module ever holds as a plain byte slice between use and garbage
// collection: the handshake's raw ECDH/RSA-unwrapped secret Z, the HKDF
// output before it is split into directional keys, and a group secret
// once every member has confirmed it. This is best-effort and aims to
// reduce the chance of the compiler eliding the write.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
