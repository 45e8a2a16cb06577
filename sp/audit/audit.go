// Package audit records the trust verdict the SP renders for every
// attestation session, and lets that record carry its own tamper-evidence
// independent of whatever datastore holds it: each record is signed with
// the SP's audit key (crypto/keys.Ed25519KeyPair) over its canonical
// encoding before it is persisted, grounded on the retrieval pack's
// session-store shape (pkg/storage) adapted from a DID-session cache to
// an attestation verdict log.
package audit

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sgx-ra/sgxra/crypto/keys"
)

// Record is one completed (or failed) attestation session, as rendered
// by sp.RaContext.DoAttestation.
type Record struct {
	ID                   string
	Gid                  [4]byte
	QuoteStatus          string
	PseManifestStatus    string // empty if PSE manifest was not submitted
	IsEnclaveTrusted     bool
	IsPseManifestTrusted bool
	EpidPseudonym        string // empty if IAS returned none
	CreatedAt            time.Time
	Signature            []byte // Ed25519 signature over CanonicalBytes(), set by Signer.Sign
}

// NewRecord builds a Record with a fresh ID and CreatedAt, ready for
// Signer.Sign and a Store's Put.
func NewRecord(gid [4]byte, quoteStatus, pseManifestStatus string, enclaveTrusted, pseTrusted bool, epidPseudonym string) *Record {
	return &Record{
		ID:                   uuid.NewString(),
		Gid:                  gid,
		QuoteStatus:          quoteStatus,
		PseManifestStatus:    pseManifestStatus,
		IsEnclaveTrusted:     enclaveTrusted,
		IsPseManifestTrusted: pseTrusted,
		EpidPseudonym:        epidPseudonym,
		// Microsecond precision, the finest a PostgreSQL timestamptz keeps,
		// so CanonicalBytes is unchanged after a round trip through any Store.
		CreatedAt: time.Now().Truncate(time.Microsecond),
	}
}

// CanonicalBytes is the deterministic byte sequence a Signer signs and
// Verify checks, built the same way wire's fixed-field-then-length-
// prefixed-blob encoding is: every field serialized in a fixed order, with
// variable-length strings length-prefixed so no delimiter collision is
// possible.
func (r *Record) CanonicalBytes() []byte {
	var buf []byte
	buf = appendLengthPrefixed(buf, []byte(r.ID))
	buf = append(buf, r.Gid[:]...)
	buf = appendLengthPrefixed(buf, []byte(r.QuoteStatus))
	buf = appendLengthPrefixed(buf, []byte(r.PseManifestStatus))
	buf = append(buf, boolByte(r.IsEnclaveTrusted))
	buf = append(buf, boolByte(r.IsPseManifestTrusted))
	buf = appendLengthPrefixed(buf, []byte(r.EpidPseudonym))
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(r.CreatedAt.UnixNano()))
	buf = append(buf, ts[:]...)
	return buf
}

func appendLengthPrefixed(buf, field []byte) []byte {
	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], uint64(len(field)))
	buf = append(buf, length[:]...)
	return append(buf, field...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Signer signs and verifies audit records with the SP's audit key.
type Signer struct {
	key *keys.Ed25519KeyPair
}

// NewSigner wraps an Ed25519 key pair as an audit record signer.
func NewSigner(key *keys.Ed25519KeyPair) *Signer {
	return &Signer{key: key}
}

// Sign computes and attaches r.Signature.
func (s *Signer) Sign(r *Record) error {
	sig, err := s.key.Sign(r.CanonicalBytes())
	if err != nil {
		return fmt.Errorf("audit: sign record: %w", err)
	}
	r.Signature = sig
	return nil
}

// Verify checks r.Signature against r's current field values.
func (s *Signer) Verify(r *Record) error {
	if err := s.key.Verify(r.CanonicalBytes(), r.Signature); err != nil {
		return fmt.Errorf("audit: record %s failed signature verification: %w", r.ID, err)
	}
	return nil
}

// Store persists attestation audit records.
type Store interface {
	// Put stores a new record.
	Put(ctx context.Context, r *Record) error

	// Get retrieves a record by ID.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns the most recent records, newest first.
	List(ctx context.Context, limit, offset int) ([]*Record, error)

	// DeleteOlderThan removes records created before cutoff, for
	// retention policies, and returns the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Count returns the total number of stored records.
	Count(ctx context.Context) (int64, error)

	Close() error
}
