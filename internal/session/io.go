package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
	"securestream/internal/protocol/record"
)

// sealAndWrite seals plaintext under the current TX key and writes it as
// a record, returning the AEAD counter used for the caller's
// rekey-trigger bookkeeping.
func (s *Session) sealAndWrite(plaintext []byte) (counter uint32, err error) {
	s.keyMu.Lock()
	gen := s.txGen
	aead := s.txAEAD
	s.keyMu.Unlock()

	n, counter, err := gen.Next()
	if err != nil {
		return 0, errs.New(errs.KindNonceExhausted, mechanismTag, err)
	}

	ciphertext, err := aead.Seal(n[:], s.aadFor(counter), plaintext)
	if err != nil {
		return 0, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}

	s.writeMu.Lock()
	werr := record.Encode(s.transport, n, ciphertext)
	s.writeMu.Unlock()
	if werr != nil {
		return 0, werr
	}

	s.obs.RecordSealed(0, counter)
	return counter, nil
}

// readAndOpen reads one record and opens it under the current RX key,
// enforcing strict monotone counter equality (§4.7, P2). The expected
// nonce is drawn from the same generator used to validate it, which
// naturally rejects any nonce whose base does not match this epoch's RX
// direction too.
func (s *Session) readAndOpen() ([]byte, error) {
	wireNonce, ciphertext, err := record.Decode(s.transport, s.currentMaxRecord())
	if err != nil {
		return nil, err
	}

	s.keyMu.Lock()
	gen := s.rxGen
	aead := s.rxAEAD
	s.keyMu.Unlock()

	expected, counter, err := gen.Next()
	if err != nil {
		return nil, errs.New(errs.KindNonceExhausted, mechanismTag, err)
	}
	if expected != wireNonce {
		return nil, errs.New(errs.KindReplayOrReorder, mechanismTag,
			fmt.Errorf("expected nonce counter %d, wire nonce %x", counter, wireNonce))
	}

	plaintext, err := aead.Open(wireNonce[:], s.aadFor(counter), ciphertext)
	if err != nil {
		return nil, errs.New(errs.KindAuthenticationFailure, mechanismTag, err)
	}
	s.obs.RecordOpened(0, counter)
	return plaintext, nil
}

// aadFor returns the empty AAD unless bind_seq_aad is enabled, in which
// case it binds the record's own AEAD counter — already public on the
// wire as part of the nonce, so both peers can compute it independently
// before the plaintext (and any FrameHeader.Seq inside it) is known.
// This is the bind_seq_aad resolution in SPEC_FULL.md ("Open Question
// resolutions"): the bound "sequence number" is the per-record counter,
// not the AU-level FrameHeader.Seq.
func (s *Session) aadFor(counter uint32) []byte {
	if !s.cfg.BindSeqAAD {
		return nil
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], counter)
	return b[:]
}

// buildDataPlaintext forms type(1) || FrameHeader(12) || payload.
func buildDataPlaintext(seq uint32, captureTSNano uint64, payload []byte) []byte {
	out := make([]byte, 1+domain.FrameHeaderSize+len(payload))
	out[0] = byte(domain.RecordData)
	hdr := domain.FrameHeader{Seq: seq, CaptureTSNano: captureTSNano}
	copy(out[1:1+domain.FrameHeaderSize], hdr.MarshalBinary())
	copy(out[1+domain.FrameHeaderSize:], payload)
	return out
}

// sendLoop pulls access units from the producer and seals/writes them
// until the producer is exhausted, ctx is cancelled, or a fatal error
// occurs.
func (s *Session) sendLoop(ctx context.Context) error {
	for {
		s.gate.waitIfPaused()

		select {
		case <-ctx.Done():
			return s.sendGoodbye()
		case <-s.done:
			return nil
		default:
		}

		payload, ts, err := s.producer.NextAU(ctx)
		if err == io.EOF {
			return s.sendGoodbye()
		}
		if err != nil {
			return errs.New(errs.KindTransportClosed, mechanismTag, err)
		}

		seq := s.seq.Add(1) - 1
		plaintext := buildDataPlaintext(seq, ts, payload)
		counter, err := s.sealAndWrite(plaintext)
		if err != nil {
			return err
		}

		if s.shouldRekey(counter) {
			s.requestRekey("tx-counter-threshold")
		}
	}
}

func (s *Session) sendGoodbye() error {
	plaintext := make([]byte, 16)
	plaintext[0] = byte(domain.RecordGoodbye)
	_, err := s.sealAndWrite(plaintext)
	return err
}

// recvLoop decodes and opens records, dispatching control types to the
// rekey coordinator and forwarding Data payloads to the consumer.
func (s *Session) recvLoop(ctx context.Context) error {
	lastActivity := time.Now()
	for {
		s.gate.waitIfPaused()

		// Short read deadlines let this loop re-check the rekey gate and
		// ctx periodically instead of blocking indefinitely on Read.
		_ = s.transport.SetReadDeadline(time.Now().Add(200 * time.Millisecond))

		plaintext, err := s.readAndOpen()
		if err != nil {
			if isTimeout(err) {
				if s.cfg.IdleTimeout > 0 && time.Since(lastActivity) >= s.cfg.IdleTimeout {
					return errs.New(errs.KindTimeout, mechanismTag,
						fmt.Errorf("no record received for %s, idle timeout exceeded", s.cfg.IdleTimeout))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-s.done:
					return nil
				default:
					continue
				}
			}
			return err
		}
		lastActivity = time.Now()

		rt := domain.RecordType(plaintext[0])
		switch rt {
		case domain.RecordData:
			hdr, err := domain.ParseFrameHeader(plaintext[1 : 1+domain.FrameHeaderSize])
			if err != nil {
				return errs.New(errs.KindMalformedRecord, mechanismTag, err)
			}
			payload := plaintext[1+domain.FrameHeaderSize:]
			if err := s.consumer.ConsumeAU(payload, hdr.CaptureTSNano); err != nil {
				return errs.New(errs.KindTransportClosed, mechanismTag, err)
			}

		case domain.RecordGoodbye:
			s.setState(domain.StateClosed)
			return errs.New(errs.KindTransportClosed, mechanismTag, io.EOF)

		case domain.RecordRekeyHello, domain.RecordRekeyAck:
			select {
			case s.peerRekeyMsg <- controlMsg{typ: rt, payload: plaintext[1:]}:
			case <-ctx.Done():
				return nil
			}

		default:
			return errs.New(errs.KindMalformedRecord, mechanismTag,
				fmt.Errorf("unexpected control record type %v in steady state", rt))
		}
	}
}

func isTimeout(err error) bool {
	type timeoutErr interface{ Timeout() bool }
	cause := err
	for cause != nil {
		if te, ok := cause.(timeoutErr); ok && te.Timeout() {
			return true
		}
		u, ok := cause.(interface{ Unwrap() error })
		if !ok {
			break
		}
		cause = u.Unwrap()
	}
	return false
}

// shouldRekey reports whether counter has crossed the configured
// per-direction threshold (§4.7 trigger (b)).
func (s *Session) shouldRekey(counter uint32) bool {
	return counter+1 >= s.cfg.RekeyCounterThreshold
}
