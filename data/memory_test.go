package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestStore() (*MemoryStore, *fakeClock) {
	s := NewMemoryStore()
	clock := &fakeClock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	s.SetClock(clock.Now)
	return s, clock
}

func TestMemoryStore_UpsertFind(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	payload := []byte(`{"uid":"abc123","value":1}`)
	require.NoError(t, s.Upsert(ctx, KindInteraction, "int-1", payload, time.Minute))

	got, found, err := s.Find(ctx, KindInteraction, "int-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, string(payload), string(got))

	// Different kind, same id: distinct record.
	_, found, err = s.Find(ctx, KindGrant, "int-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_FindByUID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.Upsert(ctx, KindInteraction, "int-1", []byte(`{"uid":"abc123"}`), time.Minute))

	got, found, err := s.FindByUID(ctx, KindInteraction, "abc123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, string(got), "abc123")

	_, found, err = s.FindByUID(ctx, KindInteraction, "unknown")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()

	require.NoError(t, s.Upsert(ctx, KindAuthCode, "code-1", []byte(`{"uid":"u1"}`), time.Second))

	_, found, err := s.Find(ctx, KindAuthCode, "code-1")
	require.NoError(t, err)
	assert.True(t, found)

	clock.Advance(1100 * time.Millisecond)

	_, found, err = s.Find(ctx, KindAuthCode, "code-1")
	require.NoError(t, err)
	assert.False(t, found, "record must be gone after TTL")

	_, found, err = s.FindByUID(ctx, KindAuthCode, "u1")
	require.NoError(t, err)
	assert.False(t, found, "uid index must expire with the record")
}

func TestMemoryStore_Consume(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.Upsert(ctx, KindAuthCode, "code-1", []byte(`{"accountId":"0xabc"}`), time.Minute))
	require.NoError(t, s.Consume(ctx, KindAuthCode, "code-1"))

	got, found, err := s.Find(ctx, KindAuthCode, "code-1")
	require.NoError(t, err)
	require.True(t, found, "consume must not delete the record")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(got, &doc))
	assert.Contains(t, doc, "consumed")
	assert.Equal(t, "0xabc", doc["accountId"])

	require.Error(t, s.Consume(ctx, KindAuthCode, "missing"))
}

func TestMemoryStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.Upsert(ctx, KindInteraction, "int-1", []byte(`{"uid":"abc123"}`), time.Minute))
	require.NoError(t, s.Consume(ctx, KindInteraction, "int-1"))

	err := s.Consume(ctx, KindInteraction, "int-1")
	require.ErrorIs(t, err, ErrAlreadyConsumed)

	// The record survives both attempts, stamped exactly once.
	got, found, err := s.Find(ctx, KindInteraction, "int-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, isConsumed(got))
}

func TestMemoryStore_ConsumeConcurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.Upsert(ctx, KindInteraction, "int-1", []byte(`{"uid":"abc123"}`), time.Minute))

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			errs <- s.Consume(ctx, KindInteraction, "int-1")
		}()
	}

	var wins, losses int
	for i := 0; i < callers; i++ {
		if err := <-errs; err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrAlreadyConsumed)
			losses++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent consume may succeed")
	assert.Equal(t, callers-1, losses)
}

func TestMemoryStore_DestroyIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.Upsert(ctx, KindInteraction, "int-1", []byte(`{"uid":"abc123"}`), time.Minute))

	require.NoError(t, s.Destroy(ctx, KindInteraction, "int-1"))
	require.NoError(t, s.Destroy(ctx, KindInteraction, "int-1"))

	_, found, err := s.Find(ctx, KindInteraction, "int-1")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.FindByUID(ctx, KindInteraction, "abc123")
	require.NoError(t, err)
	assert.False(t, found, "destroy must drop the uid index entry")
}

func TestMemoryStore_RevokeByGrantID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.Upsert(ctx, KindGrant, "grant-1", []byte(`{"grantId":"grant-1"}`), time.Hour))
	require.NoError(t, s.Upsert(ctx, KindAccessToken, "tok-1", []byte(`{"grantId":"grant-1"}`), time.Hour))
	require.NoError(t, s.Upsert(ctx, KindAccessToken, "tok-2", []byte(`{"grantId":"other"}`), time.Hour))

	require.NoError(t, s.RevokeByGrantID(ctx, "grant-1"))

	_, found, _ := s.Find(ctx, KindGrant, "grant-1")
	assert.False(t, found)
	_, found, _ = s.Find(ctx, KindAccessToken, "tok-1")
	assert.False(t, found)
	_, found, _ = s.Find(ctx, KindAccessToken, "tok-2")
	assert.True(t, found, "records of other grants stay")

	// Revoking again is a no-op.
	require.NoError(t, s.RevokeByGrantID(ctx, "grant-1"))
}

func TestMemoryStore_CorruptPayload(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.Upsert(ctx, KindInteraction, "bad", []byte(`{"uid": truncated`), time.Minute))

	_, found, err := s.Find(ctx, KindInteraction, "bad")
	require.NoError(t, err, "corrupt payload is not-found, never a fault")
	assert.False(t, found)
}

func TestTypedHelpers(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	type rec struct {
		UID   string `json:"uid"`
		Value int    `json:"value"`
	}

	require.NoError(t, Put(ctx, s, KindInteraction, "int-1", rec{UID: "abc123", Value: 7}, time.Minute))

	got, found, err := Get[rec](ctx, s, KindInteraction, "int-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 7, got.Value)

	byUID, found, err := GetByUID[rec](ctx, s, KindInteraction, "abc123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, got, byUID)
}
