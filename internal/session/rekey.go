package session

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"securestream/internal/crypto"
	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
	"securestream/internal/protocol/keyschedule"
)

// rekeyCoordinator owns every rekey decision for the life of the
// session: it watches the wall-clock trigger, serializes self- and
// peer-initiated rekey rounds, and is the only goroutine that performs
// raw (non-record-framed) handshake I/O after the initial handshake.
func (s *Session) rekeyCoordinator(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil

		case <-ticker.C:
			s.keyMu.Lock()
			elapsed := time.Since(s.epochFrom)
			s.keyMu.Unlock()
			if elapsed >= s.cfg.RekeyInterval {
				s.requestRekey("rekey-interval-elapsed")
			}

		case reason := <-s.rekeyRequests:
			if err := s.performRekey(ctx, reason, nil); err != nil {
				return err
			}

		case msg := <-s.peerRekeyMsg:
			if msg.typ != domain.RecordRekeyHello {
				// A stray Ack with nobody waiting for it: a prior round's
				// late retransmit. Nothing to do.
				continue
			}
			m := msg
			if err := s.performRekey(ctx, "peer-initiated", &m); err != nil {
				return err
			}
		}
	}
}

// requestRekey schedules a self-triggered rekey round, collapsing
// repeated requests before the coordinator gets to them.
func (s *Session) requestRekey(reason string) {
	select {
	case s.rekeyRequests <- reason:
	default:
	}
}

// performRekey runs one rekey round to completion: it pauses the send
// and receive loops, resolves the tie-break when both sides trigger
// concurrently, runs the configured mechanism fresh, and installs the
// resulting key schedule as the new epoch.
//
// TODO: sendLoop/recvLoop only check the pause gate between records, so
// a round that starts while either loop is mid-I/O can race the raw
// handshake bytes against an in-flight record; recvLoop's short read
// deadline bounds this window but does not close it.
func (s *Session) performRekey(ctx context.Context, reason string, peerHello *controlMsg) error {
	s.setState(domain.StateRekeying)
	s.obs.RekeyStart(reason)
	s.gate.begin()
	defer s.gate.end()

	ownToken, err := freshTieBreakToken()
	if err != nil {
		werr := errs.New(errs.KindHandshakeFailed, mechanismTag, err)
		s.obs.RekeyEnd(werr)
		return werr
	}

	if peerHello != nil {
		if err := s.sendControlRecord(domain.RecordRekeyAck, ownToken); err != nil {
			s.obs.RekeyEnd(err)
			return err
		}
	} else {
		if err := s.sendControlRecord(domain.RecordRekeyHello, ownToken); err != nil {
			s.obs.RekeyEnd(err)
			return err
		}
		if err := s.resolveTieBreak(ctx, ownToken); err != nil {
			s.obs.RekeyEnd(err)
			return err
		}
	}

	z, salt, _, _, err := s.runMechanism()
	if err != nil {
		s.obs.RekeyEnd(err)
		return err
	}
	ks, err := keyschedule.Derive(z, salt, s.isInitiator)
	if err != nil {
		werr := errs.New(errs.KindHandshakeFailed, mechanismTag, err)
		s.obs.RekeyEnd(werr)
		return werr
	}
	if err := s.installEpoch(ks); err != nil {
		s.obs.RekeyEnd(err)
		return err
	}

	s.setState(domain.StateEstablished)
	s.obs.RekeyEnd(nil)
	return nil
}

// resolveTieBreak waits for the peer's response to our RekeyHello. A
// plain RekeyAck means no tie: we proceed as the round's driver. A
// competing RekeyHello means both sides triggered concurrently; the
// lexicographically smaller token wins the round without needing to
// send anything further, and the loser acks the winner's hello so its
// own pending wait (symmetric to this one) unblocks (§4.7 tie-breaks).
func (s *Session) resolveTieBreak(ctx context.Context, ownToken []byte) error {
	select {
	case <-ctx.Done():
		return errs.New(errs.KindTimeout, mechanismTag, ctx.Err())
	case <-time.After(s.cfg.HandshakeTimeout):
		return errs.New(errs.KindTimeout, mechanismTag, fmt.Errorf("rekey reply timed out"))
	case reply := <-s.peerRekeyMsg:
		switch reply.typ {
		case domain.RecordRekeyAck:
			return nil
		case domain.RecordRekeyHello:
			if bytes.Compare(ownToken, reply.payload) > 0 {
				return s.sendControlRecord(domain.RecordRekeyAck, ownToken)
			}
			return nil
		default:
			return errs.New(errs.KindHandshakeFailed, mechanismTag,
				fmt.Errorf("unexpected control record %v while awaiting rekey reply", reply.typ))
		}
	}
}

// sendControlRecord seals and writes a one-byte-type-prefixed control
// record carrying payload (e.g. a tie-break token).
func (s *Session) sendControlRecord(rt domain.RecordType, payload []byte) error {
	plaintext := make([]byte, 1+len(payload))
	plaintext[0] = byte(rt)
	copy(plaintext[1:], payload)
	_, err := s.sealAndWrite(plaintext)
	return err
}

// freshTieBreakToken returns a fresh ephemeral P-256 public point used
// only for lexicographic comparison between two concurrently triggered
// rekey rounds; it is unrelated to whichever mechanism actually derives
// the round's key schedule; this keeps the tie-break uniform across
// both key-transport and key-agreement sessions.
func freshTieBreakToken() ([]byte, error) {
	priv, err := crypto.GenerateP256KeyPair()
	if err != nil {
		return nil, err
	}
	return crypto.EncodeP256Point(priv.PublicKey()), nil
}
