package session

import (
	"context"
	"fmt"
	"time"

	"securestream/internal/crypto"
	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
	"securestream/internal/protocol/handshake/agreement"
	"securestream/internal/protocol/handshake/transport"
	"securestream/internal/protocol/keyschedule"
	"securestream/internal/protocol/nonce"
)

const mechanismTag = "session"

// handshake runs the configured mechanism once, derives the initial key
// schedule, and installs it as the active epoch.
func (s *Session) handshake(ctx context.Context) error {
	s.obs.HandshakeStart(string(s.cfg.Mechanism), string(s.cfg.Role))

	z, salt, bytesTX, bytesRX, err := s.runMechanism()
	if err != nil {
		s.obs.HandshakeEnd(string(s.cfg.Mechanism), string(s.cfg.Role), bytesTX, bytesRX, err)
		return err
	}

	ks, err := keyschedule.Derive(z, salt, s.isInitiator)
	if err != nil {
		wrapped := errs.New(errs.KindHandshakeFailed, mechanismTag, err)
		s.obs.HandshakeEnd(string(s.cfg.Mechanism), string(s.cfg.Role), bytesTX, bytesRX, wrapped)
		return wrapped
	}
	if err := s.installEpoch(ks); err != nil {
		return err
	}

	s.obs.HandshakeEnd(string(s.cfg.Mechanism), string(s.cfg.Role), bytesTX, bytesRX, nil)
	return nil
}

// runMechanism dispatches to C5 or C6 per configuration and returns the
// raw shared secret, salt, and byte counts exchanged. Only key agreement
// reports byte counts; key transport reports 0 for both.
func (s *Session) runMechanism() (z domain.SharedSecret, salt [domain.HandshakeSaltSize]byte, bytesTX, bytesRX int, err error) {
	switch s.cfg.Mechanism {
	case domain.MechanismKeyAgreement:
		res, err := agreement.Run(s.transport)
		if err != nil {
			return nil, salt, 0, 0, err
		}
		return res.Secret, res.Salt, crypto.P256PointSize + domain.HandshakeSaltSize, crypto.P256PointSize + domain.HandshakeSaltSize, nil

	case domain.MechanismKeyTransport:
		if s.cfg.Role == domain.RoleListener {
			if s.rsaPriv == nil {
				priv, genErr := crypto.GenerateRSAKeyPair(s.cfg.RSABits)
				if genErr != nil {
					return nil, salt, 0, 0, errs.New(errs.KindHandshakeFailed, mechanismTag, genErr)
				}
				s.rsaPriv = priv
			}
			res, err := transport.RunListener(s.transport, s.rsaPriv)
			if err != nil {
				return nil, salt, 0, 0, err
			}
			return res.Secret, res.Salt, 0, 0, nil
		}
		res, err := transport.RunInitiator(s.transport)
		if err != nil {
			return nil, salt, 0, 0, err
		}
		return res.Secret, res.Salt, 0, 0, nil

	default:
		return nil, salt, 0, 0, errs.New(errs.KindHandshakeFailed, mechanismTag,
			fmt.Errorf("unsupported mechanism %q for a point-to-point session", s.cfg.Mechanism))
	}
}

// classifyTimeout rewraps err as KindTimeout when its root cause is a
// network deadline expiry, preserving the mechanism tag already attached.
// The handshake mechanisms (C5, C6) always fail closed with
// KindHandshakeFailed on any I/O error, including a deadline set by Run
// around the handshake+confirm span; §5 and §7 require that specific
// case to surface as Timeout instead.
func classifyTimeout(err error) error {
	if !isTimeout(err) {
		return err
	}
	if e, ok := err.(*errs.Error); ok {
		return errs.New(errs.KindTimeout, e.Mechanism, e.Cause)
	}
	return errs.New(errs.KindTimeout, mechanismTag, err)
}

// installEpoch activates ks as the session's current key epoch, building
// fresh AEAD contexts and nonce generators and wiping whatever was there
// before (nil on the first call).
func (s *Session) installEpoch(ks domain.KeySchedule) error {
	txAEAD, err := crypto.NewAEAD(ks.TX.Key)
	if err != nil {
		return errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	rxAEAD, err := crypto.NewAEAD(ks.RX.Key)
	if err != nil {
		return errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}

	s.keyMu.Lock()
	oldTX, oldRX := s.txAEAD, s.rxAEAD
	s.keys = ks
	s.txAEAD = txAEAD
	s.rxAEAD = rxAEAD
	s.txGen = nonce.New(ks.TX.NonceBase)
	s.rxGen = nonce.New(ks.RX.NonceBase)
	s.epochFrom = time.Now()
	s.keyMu.Unlock()

	if oldTX != nil {
		oldTX.Wipe()
	}
	if oldRX != nil {
		oldRX.Wipe()
	}
	return nil
}

// confirmExchange performs the mandatory post-handshake Confirm record
// exchange (§4.7): both sides seal and open a fixed 16-byte plaintext at
// counter 0 under the keys just derived.
func (s *Session) confirmExchange() error {
	plaintext := make([]byte, 16)
	plaintext[0] = byte(domain.RecordConfirm)

	if _, err := s.sealAndWrite(plaintext); err != nil {
		return err
	}
	got, err := s.readAndOpen()
	if err != nil {
		return err
	}
	if len(got) != 16 || domain.RecordType(got[0]) != domain.RecordConfirm {
		return errs.New(errs.KindHandshakeFailed, mechanismTag, fmt.Errorf("confirm record malformed"))
	}
	return nil
}
