// Package record implements the length-prefixed record codec (C1, §4.1):
// u32_be(total_len) || nonce(12) || ciphertext+tag on an ordered byte
// stream.
package record

import (
	"encoding/binary"
	"fmt"
	"io"

	"securestream/internal/crypto"
	"securestream/internal/protocol/errs"
)

// DefaultMaxRecordBytes is the default upper bound on total_len (§3, §6).
const DefaultMaxRecordBytes = 1 << 20 // 1 MiB

// headerLen is nonce size only; total_len already counts it.
const headerLen = crypto.NonceSize

// Encode writes total_len(u32 be) || nonce(12) || ciphertext as one
// contiguous write to minimize fragmentation on latency-sensitive links
// (§4.1).
func Encode(w io.Writer, nonce [crypto.NonceSize]byte, ciphertext []byte) error {
	totalLen := headerLen + len(ciphertext)
	buf := make([]byte, 4+totalLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(totalLen))
	copy(buf[4:4+headerLen], nonce[:])
	copy(buf[4+headerLen:], ciphertext)
	if _, err := w.Write(buf); err != nil {
		return errs.New(errs.KindTransportClosed, "", fmt.Errorf("record: write: %w", err))
	}
	return nil
}

// Decode reads one record from r. Short reads before total_len bytes
// arrive are surfaced as TransportClosed; a length outside [12, maxRecord]
// is MalformedRecord.
func Decode(r io.Reader, maxRecord uint32) (nonce [crypto.NonceSize]byte, ciphertext []byte, err error) {
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return nonce, nil, errs.New(errs.KindTransportClosed, "", fmt.Errorf("record: read length: %w", err))
	}
	totalLen := binary.BigEndian.Uint32(lenBuf[:])
	if totalLen < headerLen || totalLen > maxRecord {
		return nonce, nil, errs.New(errs.KindMalformedRecord, "", fmt.Errorf(
			"record: total_len %d outside [%d, %d]", totalLen, headerLen, maxRecord))
	}

	if _, err = io.ReadFull(r, nonce[:]); err != nil {
		return nonce, nil, errs.New(errs.KindTransportClosed, "", fmt.Errorf("record: read nonce: %w", err))
	}

	ctLen := totalLen - headerLen
	ciphertext = make([]byte, ctLen)
	if _, err = io.ReadFull(r, ciphertext); err != nil {
		return nonce, nil, errs.New(errs.KindTransportClosed, "", fmt.Errorf("record: read ciphertext: %w", err))
	}
	return nonce, ciphertext, nil
}
