package o11y

import (
	"context"
	"time"

	"github.com/walletgate/identity-broker/data"
)

type tracedStore struct {
	label string
	data.Store
}

// NewTracedStore wraps a session store so every operation shows up as a
// child span annotated with the record kind.
func NewTracedStore(label string, store data.Store) data.Store {
	return &tracedStore{label: label, Store: store}
}

func (s *tracedStore) trace(ctx context.Context, op string, kind data.Kind) (context.Context, *Span) {
	return Trace(ctx, "store."+op,
		WithAnnotation("store", s.label),
		WithAnnotation("kind", string(kind)),
	)
}

func (s *tracedStore) Upsert(ctx context.Context, kind data.Kind, id string, payload []byte, expiresIn time.Duration) (err error) {
	ctx, span := s.trace(ctx, "Upsert", kind)
	defer func() {
		span.RecordError(err)
		span.End()
	}()
	return s.Store.Upsert(ctx, kind, id, payload, expiresIn)
}

func (s *tracedStore) Find(ctx context.Context, kind data.Kind, id string) (payload []byte, found bool, err error) {
	ctx, span := s.trace(ctx, "Find", kind)
	defer func() {
		span.RecordError(err)
		span.End()
	}()
	return s.Store.Find(ctx, kind, id)
}

func (s *tracedStore) FindByUID(ctx context.Context, kind data.Kind, uid string) (payload []byte, found bool, err error) {
	ctx, span := s.trace(ctx, "FindByUID", kind)
	defer func() {
		span.RecordError(err)
		span.End()
	}()
	return s.Store.FindByUID(ctx, kind, uid)
}

func (s *tracedStore) Consume(ctx context.Context, kind data.Kind, id string) (err error) {
	ctx, span := s.trace(ctx, "Consume", kind)
	defer func() {
		span.RecordError(err)
		span.End()
	}()
	return s.Store.Consume(ctx, kind, id)
}

func (s *tracedStore) Destroy(ctx context.Context, kind data.Kind, id string) (err error) {
	ctx, span := s.trace(ctx, "Destroy", kind)
	defer func() {
		span.RecordError(err)
		span.End()
	}()
	return s.Store.Destroy(ctx, kind, id)
}

func (s *tracedStore) RevokeByGrantID(ctx context.Context, grantID string) (err error) {
	ctx, span := Trace(ctx, "store.RevokeByGrantID", WithAnnotation("store", s.label))
	defer func() {
		span.RecordError(err)
		span.End()
	}()
	return s.Store.RevokeByGrantID(ctx, grantID)
}
