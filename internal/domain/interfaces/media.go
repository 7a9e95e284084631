// Package interfaces defines the contracts the session protocol core
// depends on but does not implement: the external collaborators named in
// spec.md §1 (frame I/O, transport) and the optional observability hook
// from §9.
package interfaces

import "context"

// FrameProducer yields access units to be encrypted and sent. It is
// opaque to the core: camera capture and H.264 encoding live entirely
// outside this module.
type FrameProducer interface {
	// NextAU blocks until an access unit is available, ctx is done, or the
	// producer is exhausted (io.EOF).
	NextAU(ctx context.Context) (payload []byte, captureTSNano uint64, err error)
}

// FrameConsumer receives decrypted access units in receive order.
type FrameConsumer interface {
	ConsumeAU(payload []byte, captureTSNano uint64) error
}
