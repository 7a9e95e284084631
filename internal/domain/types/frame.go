package types

import (
	"encoding/binary"
	"fmt"
)

// FrameHeaderSize is the fixed wire size of FrameHeader (§3).
const FrameHeaderSize = 12

// FrameHeader prefixes every AU's plaintext: a 32-bit sequence number that
// wraps independently of the AEAD nonce counter, and the producer's
// capture timestamp in nanoseconds.
type FrameHeader struct {
	Seq           uint32
	CaptureTSNano uint64
}

// MarshalBinary encodes the header as seq(u32 be) || capture_ts_ns(u64 be).
func (h FrameHeader) MarshalBinary() []byte {
	b := make([]byte, FrameHeaderSize)
	binary.BigEndian.PutUint32(b[0:4], h.Seq)
	binary.BigEndian.PutUint64(b[4:12], h.CaptureTSNano)
	return b
}

// ParseFrameHeader decodes a FrameHeader from its fixed 12-byte encoding.
func ParseFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) != FrameHeaderSize {
		return FrameHeader{}, fmt.Errorf("frame header: want %d bytes, got %d", FrameHeaderSize, len(b))
	}
	return FrameHeader{
		Seq:           binary.BigEndian.Uint32(b[0:4]),
		CaptureTSNano: binary.BigEndian.Uint64(b[4:12]),
	}, nil
}

// AccessUnit is an opaque compressed video access unit paired with the
// capture timestamp at which the producer sampled it.
type AccessUnit struct {
	Payload       []byte
	CaptureTSNano uint64
}
