// Package nonce implements the per-direction 96-bit nonce generator (C3,
// §4.3): nonce_base(64 bit) || counter(32 bit, big-endian), with
// exhaustion detection so the session can rekey before the counter would
// wrap.
package nonce

import (
	"encoding/binary"
	"errors"

	"securestream/internal/crypto"
)

// ErrExhausted is returned once the counter has reached 2^32-1: the spec
// requires rekey strictly before this value is ever consumed, so Next
// refuses to hand it out.
var ErrExhausted = errors.New("nonce: counter exhausted, rekey required")

const maxCounter = ^uint32(0)

// Generator produces nonces for one direction of one key epoch. It is not
// safe for concurrent use: the session's single owning goroutine per
// direction is the only permitted caller (§4.3: "Concurrent access is not
// permitted").
type Generator struct {
	base    [8]byte
	counter uint32
}

// New creates a Generator seeded with base, counter starting at 0 (§3:
// "counter starts at 0 for a fresh key").
func New(base [8]byte) *Generator {
	return &Generator{base: base}
}

// Next returns the next nonce and its counter, then advances the counter.
func (g *Generator) Next() (out [crypto.NonceSize]byte, counter uint32, err error) {
	if g.counter == maxCounter {
		return out, 0, ErrExhausted
	}
	counter = g.counter
	copy(out[:8], g.base[:])
	binary.BigEndian.PutUint32(out[8:], counter)
	g.counter++
	return out, counter, nil
}

// Remaining reports how many more nonces can be issued before exhaustion.
func (g *Generator) Remaining() uint32 {
	return maxCounter - g.counter
}

// Counter reports the next counter value Next will issue.
func (g *Generator) Counter() uint32 { return g.counter }
