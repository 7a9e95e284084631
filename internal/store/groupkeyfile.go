// Package store implements the optional group_key bootstrap file (§5,
// §6 "Persisted state"): a fixed 40-byte binary record, owner-readable
// only, holding group_secret(32) || salt(8). It is the only persisted
// state this module ever writes, grounded on the teacher's
// internal/store/file_store.go mutex-guarded, permission-strict file
// I/O — adapted from JSON envelopes to a fixed-width binary layout since
// the spec fixes this file's byte layout exactly.
package store

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/hkdf"

	"securestream/internal/domain"
)

// GroupKeyRecordSize is the exact on-disk size of a group_key file (§6:
// "exactly 40 bytes group_secret(32) || salt(8)").
const GroupKeyRecordSize = 40

const groupSecretSize = 32
const groupKeySaltSize = 8

// GroupKeyRecord is the decoded contents of a group_key file.
type GroupKeyRecord struct {
	Secret [groupSecretSize]byte
	Salt   [groupKeySaltSize]byte
}

// saltExpandLabel domain-separates the persisted-salt expansion below
// from C4's own HKDF use (keyschedule.Derive) so the two never collide
// on input even though both eventually feed golang.org/x/crypto/hkdf.
var saltExpandLabel = []byte("securestream|group-key-file-salt-expand|v1")

// HandshakeSalt expands the file's 8-byte persisted salt into the
// domain.HandshakeSaltSize (32-byte) salt C4 requires. §4.4 specifies a
// 32-byte random salt for the live handshake path; a persisted 8-byte
// salt zero-padded out to 32 bytes would leave 24 bytes constant and
// halve its effective entropy against that path. HKDF-Expand (RFC 5869)
// with no secret PRK reuse — the persisted salt is the only input
// keying material — stretches it into a full-width, non-degenerate salt
// deterministically, so every member independently loading the same
// group_key file derives the identical expansion.
func (r GroupKeyRecord) HandshakeSalt() ([domain.HandshakeSaltSize]byte, error) {
	var out [domain.HandshakeSaltSize]byte
	rd := hkdf.Expand(sha256.New, r.Salt[:], saltExpandLabel)
	if _, err := io.ReadFull(rd, out[:]); err != nil {
		return out, fmt.Errorf("groupkeyfile: expand persisted salt: %w", err)
	}
	return out, nil
}

// GroupKeyFile guards reads and writes to a single group_key path with a
// mutex, matching the teacher's per-store single-owner locking idiom.
type GroupKeyFile struct {
	path string
	mu   sync.Mutex
}

// NewGroupKeyFile binds a GroupKeyFile to path. path is not touched until
// Save or Load is called.
func NewGroupKeyFile(path string) *GroupKeyFile {
	return &GroupKeyFile{path: path}
}

// Save writes rec to disk, creating the file owner-readable only (§5:
// "MUST be created with owner-only permissions"). It refuses to write
// over an existing file: bootstrap material should be generated once and
// replaced deliberately, not silently clobbered by a second run.
func (f *GroupKeyFile) Save(rec GroupKeyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, 0, GroupKeyRecordSize)
	buf = append(buf, rec.Secret[:]...)
	buf = append(buf, rec.Salt[:]...)

	return createOwnerOnly(f.path, buf)
}

// Load reads and validates a group_key file, rejecting anything not
// exactly GroupKeyRecordSize bytes.
func (f *GroupKeyFile) Load() (GroupKeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return GroupKeyRecord{}, fmt.Errorf("groupkeyfile: read %s: %w", f.path, err)
	}
	if len(raw) != GroupKeyRecordSize {
		return GroupKeyRecord{}, fmt.Errorf("groupkeyfile: %s is %d bytes, want %d", f.path, len(raw), GroupKeyRecordSize)
	}
	var rec GroupKeyRecord
	copy(rec.Secret[:], raw[0:groupSecretSize])
	copy(rec.Salt[:], raw[groupSecretSize:GroupKeyRecordSize])
	return rec, nil
}
