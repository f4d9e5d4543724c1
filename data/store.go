// Package data implements the persistence contract the provider engine
// runs against: kind-namespaced JSON payloads with TTL, a secondary
// lookup index by interaction uid, and a per-grant membership index for
// bulk revocation.
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyConsumed reports that a record was consumed before, by this
// caller or a concurrent one.
var ErrAlreadyConsumed = errors.New("record already consumed")

type Kind string

const (
	KindInteraction Kind = "Interaction"
	KindGrant       Kind = "Grant"
	KindAuthCode    Kind = "AuthorizationCode"
	KindAccessToken Kind = "AccessToken"
)

// Store is the storage adapter. All operations are safe for concurrent
// use; conflicting writes to the same id are serialized by the backing
// store, not by callers.
type Store interface {
	// Upsert writes payload under (kind, id) with the given TTL. A
	// payload carrying a "uid" field also gets a uid -> id index entry
	// with the same TTL; one carrying a "grantId" field is registered
	// under that grant for later bulk revocation.
	Upsert(ctx context.Context, kind Kind, id string, payload []byte, expiresIn time.Duration) error

	// Find returns the live payload, or found=false if the record is
	// absent, expired, or unreadable.
	Find(ctx context.Context, kind Kind, id string) (payload []byte, found bool, err error)

	// FindByUID resolves the uid index and delegates to Find.
	FindByUID(ctx context.Context, kind Kind, uid string) (payload []byte, found bool, err error)

	// Consume stamps the record with a consumed timestamp without
	// deleting it, preserving replay-detection data until expiry.
	// Consuming is atomic and happens at most once per record: a second
	// Consume fails with ErrAlreadyConsumed, so of any number of
	// concurrent callers exactly one wins.
	Consume(ctx context.Context, kind Kind, id string) error

	// Destroy deletes the record. Destroying an absent id is a no-op;
	// index cleanup is best effort.
	Destroy(ctx context.Context, kind Kind, id string) error

	// RevokeByGrantID deletes every record registered under the grant,
	// and the grant index entry itself.
	RevokeByGrantID(ctx context.Context, grantID string) error
}

// indexedFields are the only payload fields the adapter itself looks at.
type indexedFields struct {
	UID     string `json:"uid"`
	GrantID string `json:"grantId"`
}

func extractIndexes(payload []byte) indexedFields {
	var f indexedFields
	// A payload that does not decode carries no indexes.
	_ = json.Unmarshal(payload, &f)
	return f
}

func isConsumed(payload []byte) bool {
	var f struct {
		Consumed int64 `json:"consumed"`
	}
	_ = json.Unmarshal(payload, &f)
	return f.Consumed != 0
}

func stampConsumed(payload []byte, now time.Time) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}
	ts, err := json.Marshal(now.Unix())
	if err != nil {
		return nil, err
	}
	doc["consumed"] = ts
	return json.Marshal(doc)
}

// Put marshals v and upserts it under (kind, id).
func Put[T any](ctx context.Context, s Store, kind Kind, id string, v T, expiresIn time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return s.Upsert(ctx, kind, id, payload, expiresIn)
}

// Get finds and unmarshals a record of kind under id.
func Get[T any](ctx context.Context, s Store, kind Kind, id string) (*T, bool, error) {
	payload, found, err := s.Find(ctx, kind, id)
	if err != nil || !found {
		return nil, false, err
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, false, nil
	}
	return &v, true, nil
}

// GetByUID finds and unmarshals a record of kind via the uid index.
func GetByUID[T any](ctx context.Context, s Store, kind Kind, uid string) (*T, bool, error) {
	payload, found, err := s.FindByUID(ctx, kind, uid)
	if err != nil || !found {
		return nil, false, err
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, false, nil
	}
	return &v, true, nil
}
