// Package group implements the group-key distributor (C8, §4.8): a
// leader fans a single freshly sampled group secret out to every member
// in its roster over independent pairwise C5/C6 channels, so that every
// member derives an identical set of group directional keys.
//
// The pairwise channel itself is not a full Session (C7): it only needs
// to carry two control records (the secret, then a hash confirmation)
// plus a final go-ahead, so this package drives C1/C3/C4/C5/C6 directly
// rather than running the steady-state send/receive loops C7 is built
// for.
package group

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"securestream/internal/config"
	"securestream/internal/crypto"
	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
	"securestream/internal/protocol/handshake/agreement"
	"securestream/internal/protocol/handshake/transport"
	"securestream/internal/protocol/keyschedule"
	"securestream/internal/protocol/nonce"
	"securestream/internal/protocol/record"
)

const mechanismTag = "group"

// groupSecretSize matches domain.HandshakeSaltSize (32 bytes); kept as
// its own name because the two 32-byte quantities play different roles
// on the wire (secret vs. salt).
const groupSecretSize = domain.HandshakeSaltSize

// DialFunc opens a transport to one roster member. Production callers
// supply one backed by net.Dial; tests inject in-process pipes.
type DialFunc func(ctx context.Context, member domain.Member) (domain.Transport, error)

// Leader distributes a group secret to every member of cfg.Members.
type Leader struct {
	cfg     config.Options
	obs     domain.Observer
	dial    DialFunc
	rsaPriv *rsa.PrivateKey // not used: the leader plays the key-transport initiator
}

// NewLeader constructs a Leader. rsaPriv may be nil for every mechanism:
// the leader plays the initiator side of each pairwise handshake, which
// never needs an RSA private key.
func NewLeader(cfg config.Options, obs domain.Observer, dial DialFunc, rsaPriv *rsa.PrivateKey) *Leader {
	if obs == nil {
		obs = domain.NewNoopObserver()
	}
	return &Leader{cfg: cfg, obs: obs, dial: dial, rsaPriv: rsaPriv}
}

type memberChannel struct {
	member domain.Member
	conn   domain.Transport
	txAEAD *crypto.AEAD
	rxAEAD *crypto.AEAD
	txGen  *nonce.Generator
	rxGen  *nonce.Generator
}

func (ch *memberChannel) close() {
	ch.conn.Close()
	if ch.txAEAD != nil {
		ch.txAEAD.Wipe()
	}
	if ch.rxAEAD != nil {
		ch.rxAEAD.Wipe()
	}
}

// Distribute establishes a pairwise channel with every configured
// member, sends each one the same freshly sampled group secret, and
// waits for its hash confirmation before releasing a final go-ahead.
// Any member's failure aborts the whole round: channels already
// confirmed are torn down without their go-ahead, and the secret is
// wiped (§4.8 "the leader aborts distribution and wipes group_secret").
func (l *Leader) Distribute(ctx context.Context) (domain.KeySchedule, error) {
	var groupSecret [groupSecretSize]byte
	var groupSalt [domain.HandshakeSaltSize]byte
	if _, err := rand.Read(groupSecret[:]); err != nil {
		return domain.KeySchedule{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	if _, err := rand.Read(groupSalt[:]); err != nil {
		return domain.KeySchedule{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	defer crypto.Wipe(groupSecret[:])
	return l.distribute(ctx, groupSecret, groupSalt)
}

// DistributeWithSecret runs the same round as Distribute but with a
// pre-agreed secret and salt instead of a freshly sampled one, for the
// group_key bootstrap file case (§5, §6 "Persisted state"): an operator
// who already agreed a group secret out of band can seed every member
// with it over the usual pairwise-authenticated channels rather than
// trusting a fresh random sample none of them can verify in advance.
func (l *Leader) DistributeWithSecret(ctx context.Context, groupSecret [groupSecretSize]byte, groupSalt [domain.HandshakeSaltSize]byte) (domain.KeySchedule, error) {
	defer crypto.Wipe(groupSecret[:])
	return l.distribute(ctx, groupSecret, groupSalt)
}

func (l *Leader) distribute(ctx context.Context, groupSecret [groupSecretSize]byte, groupSalt [domain.HandshakeSaltSize]byte) (domain.KeySchedule, error) {
	if l.cfg.Role != domain.RoleLeader {
		return domain.KeySchedule{}, errs.New(errs.KindConfigError, mechanismTag, fmt.Errorf("group.Leader requires role=leader"))
	}
	if len(l.cfg.Members) == 0 {
		return domain.KeySchedule{}, errs.New(errs.KindConfigError, mechanismTag, fmt.Errorf("group distribution requires at least one member"))
	}

	roundID := uuid.New().String()

	channels := make([]*memberChannel, 0, len(l.cfg.Members))
	abort := func(cause error) (domain.KeySchedule, error) {
		for _, ch := range channels {
			ch.close()
		}
		crypto.Wipe(groupSecret[:])
		l.obs.Error(string(errKind(cause)), fmt.Errorf("group round %s: %w", roundID, cause))
		return domain.KeySchedule{}, cause
	}

	wantAckHash := sha256.Sum256(groupSecret[:])

	for _, member := range l.cfg.Members {
		conn, err := l.dial(ctx, member)
		if err != nil {
			return abort(errs.New(errs.KindTransportClosed, mechanismTag, fmt.Errorf("round %s: dial member %s: %w", roundID, member.NodeID, err)))
		}

		z, pairSalt, err := runPairwiseHandshake(conn, l.cfg, true, l.rsaPriv)
		if err != nil {
			conn.Close()
			return abort(err)
		}
		pairKS, err := keyschedule.Derive(z, pairSalt, true)
		if err != nil {
			conn.Close()
			return abort(errs.New(errs.KindHandshakeFailed, mechanismTag, err))
		}

		ch, err := newMemberChannel(member, conn, pairKS)
		if err != nil {
			conn.Close()
			return abort(err)
		}

		payload := make([]byte, 1+groupSecretSize+domain.HandshakeSaltSize)
		payload[0] = byte(domain.RecordGroupSecret)
		copy(payload[1:1+groupSecretSize], groupSecret[:])
		copy(payload[1+groupSecretSize:], groupSalt[:])
		if err := sealAndWrite(ch.conn, ch.txAEAD, ch.txGen, payload); err != nil {
			ch.close()
			return abort(err)
		}

		_ = ch.conn.SetReadDeadline(time.Now().Add(l.cfg.HandshakeTimeout))
		ack, err := readAndOpen(ch.conn, ch.rxAEAD, ch.rxGen, l.cfg.MaxRecordBytes)
		if err != nil {
			ch.close()
			return abort(err)
		}
		if len(ack) != 1+len(wantAckHash) || domain.RecordType(ack[0]) != domain.RecordGroupReady || !bytes.Equal(ack[1:], wantAckHash[:]) {
			ch.close()
			return abort(errs.New(errs.KindAuthenticationFailure, mechanismTag, fmt.Errorf("member %s sent a mismatched group key confirmation", member.NodeID)))
		}

		channels = append(channels, ch)
	}

	// Every member confirmed: release the go-ahead so none of them sits
	// waiting out its timeout, then tear the pairwise channels down.
	for _, ch := range channels {
		if err := sealAndWrite(ch.conn, ch.txAEAD, ch.txGen, []byte{byte(domain.RecordGroupReady)}); err != nil {
			return abort(err)
		}
	}
	for _, ch := range channels {
		ch.close()
	}

	ks, err := keyschedule.Derive(groupSecret[:], groupSalt, true)
	if err != nil {
		return domain.KeySchedule{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	return ks, nil
}

func newMemberChannel(member domain.Member, conn domain.Transport, pairKS domain.KeySchedule) (*memberChannel, error) {
	txAEAD, err := crypto.NewAEAD(pairKS.TX.Key)
	if err != nil {
		return nil, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	rxAEAD, err := crypto.NewAEAD(pairKS.RX.Key)
	if err != nil {
		txAEAD.Wipe()
		return nil, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	return &memberChannel{
		member: member,
		conn:   conn,
		txAEAD: txAEAD,
		rxAEAD: rxAEAD,
		txGen:  nonce.New(pairKS.TX.NonceBase),
		rxGen:  nonce.New(pairKS.RX.NonceBase),
	}, nil
}

// Member receives a group secret distributed by a leader on one
// already-accepted pairwise channel.
type Member struct {
	cfg     config.Options
	obs     domain.Observer
	rsaPriv *rsa.PrivateKey
}

// NewMember constructs a Member. rsaPriv is required only for a
// key-transport roster, where the member plays the C5 listener role.
func NewMember(cfg config.Options, obs domain.Observer, rsaPriv *rsa.PrivateKey) *Member {
	if obs == nil {
		obs = domain.NewNoopObserver()
	}
	return &Member{cfg: cfg, obs: obs, rsaPriv: rsaPriv}
}

// Receive runs the member side of distribution to completion on conn:
// the pairwise handshake, the secret transfer, the hash confirmation,
// and the wait for the leader's final go-ahead. If the go-ahead does not
// arrive within the configured handshake timeout — the signal that some
// other member's channel failed and the leader aborted the round — the
// received secret is wiped and Receive returns a Timeout error (§4.8
// "members ... wipe it on a bounded timeout without a follow-up
// GroupReady").
func (m *Member) Receive(ctx context.Context, conn domain.Transport) (domain.KeySchedule, error) {
	if m.cfg.Role != domain.RoleMember {
		return domain.KeySchedule{}, errs.New(errs.KindConfigError, mechanismTag, fmt.Errorf("group.Member requires role=member"))
	}
	connID := uuid.New().String()

	z, pairSalt, err := runPairwiseHandshake(conn, m.cfg, false, m.rsaPriv)
	if err != nil {
		return domain.KeySchedule{}, err
	}
	pairKS, err := keyschedule.Derive(z, pairSalt, false)
	if err != nil {
		return domain.KeySchedule{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	ch, err := newMemberChannel(domain.Member{}, conn, pairKS)
	if err != nil {
		return domain.KeySchedule{}, err
	}
	defer func() {
		ch.txAEAD.Wipe()
		ch.rxAEAD.Wipe()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.HandshakeTimeout))
	secretMsg, err := readAndOpen(ch.conn, ch.rxAEAD, ch.rxGen, m.cfg.MaxRecordBytes)
	if err != nil {
		return domain.KeySchedule{}, err
	}
	if len(secretMsg) != 1+groupSecretSize+domain.HandshakeSaltSize || domain.RecordType(secretMsg[0]) != domain.RecordGroupSecret {
		return domain.KeySchedule{}, errs.New(errs.KindMalformedRecord, mechanismTag, fmt.Errorf("malformed group secret record"))
	}
	var groupSecret [groupSecretSize]byte
	var groupSalt [domain.HandshakeSaltSize]byte
	copy(groupSecret[:], secretMsg[1:1+groupSecretSize])
	copy(groupSalt[:], secretMsg[1+groupSecretSize:])

	hash := sha256.Sum256(groupSecret[:])
	ack := make([]byte, 1+len(hash))
	ack[0] = byte(domain.RecordGroupReady)
	copy(ack[1:], hash[:])
	if err := sealAndWrite(ch.conn, ch.txAEAD, ch.txGen, ack); err != nil {
		crypto.Wipe(groupSecret[:])
		return domain.KeySchedule{}, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.HandshakeTimeout))
	goAhead, err := readAndOpen(ch.conn, ch.rxAEAD, ch.rxGen, m.cfg.MaxRecordBytes)
	if err != nil {
		crypto.Wipe(groupSecret[:])
		if isTimeout(err) {
			return domain.KeySchedule{}, errs.New(errs.KindTimeout, mechanismTag, fmt.Errorf("connection %s: group round aborted: no go-ahead from leader", connID))
		}
		return domain.KeySchedule{}, err
	}
	if len(goAhead) != 1 || domain.RecordType(goAhead[0]) != domain.RecordGroupReady {
		crypto.Wipe(groupSecret[:])
		return domain.KeySchedule{}, errs.New(errs.KindMalformedRecord, mechanismTag, fmt.Errorf("unexpected go-ahead record"))
	}

	// The group key schedule is shared, not pairwise: every member takes
	// the same half as the leader so all of them hold identical TX/RX keys.
	ks, err := keyschedule.Derive(groupSecret[:], groupSalt, true)
	if err != nil {
		return domain.KeySchedule{}, errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	return ks, nil
}

// runPairwiseHandshake runs cfg.Mechanism's C5 or C6 exchange over conn,
// with isLeader choosing which side of the mechanism this call plays:
// the leader always dials out and plays the key-agreement/key-transport
// initiator; the member always plays the listener (and, for key
// transport, holds the RSA keypair).
func runPairwiseHandshake(conn domain.Transport, cfg config.Options, isLeader bool, rsaPriv *rsa.PrivateKey) (domain.SharedSecret, [domain.HandshakeSaltSize]byte, error) {
	var zero [domain.HandshakeSaltSize]byte
	switch cfg.Mechanism {
	case domain.MechanismKeyAgreement:
		res, err := agreement.Run(conn)
		if err != nil {
			return nil, zero, err
		}
		return res.Secret, res.Salt, nil

	case domain.MechanismKeyTransport:
		if isLeader {
			res, err := transport.RunInitiator(conn)
			if err != nil {
				return nil, zero, err
			}
			return res.Secret, res.Salt, nil
		}
		if rsaPriv == nil {
			return nil, zero, errs.New(errs.KindConfigError, mechanismTag, fmt.Errorf("key-transport member requires an rsa private key"))
		}
		res, err := transport.RunListener(conn, rsaPriv)
		if err != nil {
			return nil, zero, err
		}
		return res.Secret, res.Salt, nil

	default:
		return nil, zero, errs.New(errs.KindConfigError, mechanismTag, fmt.Errorf("unsupported pairwise mechanism %q for group distribution", cfg.Mechanism))
	}
}

func sealAndWrite(w io.Writer, aead *crypto.AEAD, gen *nonce.Generator, plaintext []byte) error {
	n, _, err := gen.Next()
	if err != nil {
		return errs.New(errs.KindNonceExhausted, mechanismTag, err)
	}
	ciphertext, err := aead.Seal(n[:], nil, plaintext)
	if err != nil {
		return errs.New(errs.KindHandshakeFailed, mechanismTag, err)
	}
	return record.Encode(w, n, ciphertext)
}

func readAndOpen(r io.Reader, aead *crypto.AEAD, gen *nonce.Generator, maxRecord uint32) ([]byte, error) {
	if maxRecord == 0 {
		maxRecord = record.DefaultMaxRecordBytes
	}
	wireNonce, ciphertext, err := record.Decode(r, maxRecord)
	if err != nil {
		return nil, err
	}
	expected, _, err := gen.Next()
	if err != nil {
		return nil, errs.New(errs.KindNonceExhausted, mechanismTag, err)
	}
	if expected != wireNonce {
		return nil, errs.New(errs.KindReplayOrReorder, mechanismTag, fmt.Errorf("unexpected nonce on group channel"))
	}
	plaintext, err := aead.Open(wireNonce[:], nil, ciphertext)
	if err != nil {
		return nil, errs.New(errs.KindAuthenticationFailure, mechanismTag, err)
	}
	return plaintext, nil
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

func errKind(err error) errs.Kind {
	if e, ok := err.(*errs.Error); ok {
		return e.Kind
	}
	return errs.KindHandshakeFailed
}
