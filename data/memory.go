package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the in-process storage adapter used in local mode and
// in tests. Semantics mirror RedisStore, including lazy expiry.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memRecord
	uids    map[string]memIndex
	grants  map[string]map[string]struct{}

	// now is swappable so TTL behavior is testable without sleeping.
	now func() time.Time
}

type memRecord struct {
	payload   []byte
	expiresAt time.Time
}

type memIndex struct {
	recordID  string
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]memRecord{},
		uids:    map[string]memIndex{},
		grants:  map[string]map[string]struct{}{},
		now:     time.Now,
	}
}

// SetClock overrides the store's time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func recordKey(kind Kind, id string) string {
	return string(kind) + ":" + id
}

func (s *MemoryStore) Upsert(_ context.Context, kind Kind, id string, payload []byte, expiresIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(expiresIn)
	key := recordKey(kind, id)
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.records[key] = memRecord{payload: buf, expiresAt: expiresAt}

	idx := extractIndexes(payload)
	if idx.UID != "" {
		s.uids[idx.UID] = memIndex{recordID: id, expiresAt: expiresAt}
	}
	if idx.GrantID != "" {
		members, ok := s.grants[idx.GrantID]
		if !ok {
			members = map[string]struct{}{}
			s.grants[idx.GrantID] = members
		}
		members[key] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Find(_ context.Context, kind Kind, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(kind, id)
}

func (s *MemoryStore) findLocked(kind Kind, id string) ([]byte, bool, error) {
	rec, ok := s.records[recordKey(kind, id)]
	if !ok || !rec.expiresAt.After(s.now()) {
		return nil, false, nil
	}
	if !json.Valid(rec.payload) {
		return nil, false, nil
	}
	out := make([]byte, len(rec.payload))
	copy(out, rec.payload)
	return out, true, nil
}

func (s *MemoryStore) FindByUID(_ context.Context, kind Kind, uid string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.uids[uid]
	if !ok || !idx.expiresAt.After(s.now()) {
		return nil, false, nil
	}
	return s.findLocked(kind, idx.recordID)
}

func (s *MemoryStore) Consume(_ context.Context, kind Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(kind, id)
	rec, ok := s.records[key]
	if !ok || !rec.expiresAt.After(s.now()) {
		return fmt.Errorf("consume %s: record not found", key)
	}
	if isConsumed(rec.payload) {
		return fmt.Errorf("consume %s: %w", key, ErrAlreadyConsumed)
	}
	stamped, err := stampConsumed(rec.payload, s.now())
	if err != nil {
		return fmt.Errorf("consume %s: %w", key, err)
	}
	rec.payload = stamped
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Destroy(_ context.Context, kind Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(kind, id)
	if rec, ok := s.records[key]; ok {
		if idx := extractIndexes(rec.payload); idx.UID != "" {
			delete(s.uids, idx.UID)
		}
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) RevokeByGrantID(_ context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.grants[grantID] {
		delete(s.records, key)
	}
	delete(s.grants, grantID)
	return nil
}
