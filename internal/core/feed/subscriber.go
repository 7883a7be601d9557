package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"recordstore.service/internal/core/model"
	"recordstore.service/internal/core/normalize"
	"recordstore.service/internal/core/store"
	"recordstore.service/internal/ports/source"
)

// Subscriber bridges the remote change feed into a view's normalizer and
// merge buffer. Start and Stop are idempotent and tied to view activation;
// events from a torn-down subscription are never applied.
type Subscriber struct {
	src   source.RemoteSource
	norm  *normalize.Normalizer
	buf   *store.MergeBuffer
	table string
	log   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    atomic.Uint64
}

// New returns a subscriber for one table feed.
func New(src source.RemoteSource, norm *normalize.Normalizer, buf *store.MergeBuffer, table string, log zerolog.Logger) *Subscriber {
	return &Subscriber{src: src, norm: norm, buf: buf, table: table, log: log}
}

// Start opens the subscription if it is not already open. A second Start
// while active is a no-op, so re-activating a view never leaks a stream.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	gen := s.gen.Add(1)
	go s.run(ctx, gen)
}

// Stop tears the subscription down. Idempotent; events still in flight for
// the old generation are discarded rather than applied.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.gen.Add(1)
}

// run subscribes, drains the stream, and resubscribes with exponential
// backoff when the stream fails, until the context is cancelled.
func (s *Subscriber) run(ctx context.Context, gen uint64) {
	events := []source.EventType{source.EventInsert, source.EventUpdate, source.EventDelete}

	for {
		subscribe := func() (<-chan source.ChangeEvent, error) {
			return s.src.Subscribe(ctx, s.table, events)
		}
		stream, err := backoff.Retry(ctx, subscribe, backoff.WithBackOff(backoff.NewExponentialBackOff()))
		if err != nil {
			// Only a cancelled context exhausts the retry loop.
			return
		}

		for ev := range stream {
			if s.gen.Load() != gen {
				return
			}
			s.handle(ev)
		}

		if ctx.Err() != nil || s.gen.Load() != gen {
			return
		}
		s.log.Warn().Str("table", s.table).Msg("Change feed stream closed, resubscribing")
	}
}

// handle feeds one event through the pipeline: insert/update re-enter at
// the normalizer and merge as a single-element batch; delete removes the
// identity outright, since a deleted record is not reconciled but ceases to
// exist in the view.
func (s *Subscriber) handle(ev source.ChangeEvent) {
	rec := s.norm.Normalize(ev.Row)
	if rec.Identity == "" {
		s.log.Warn().Str("event", string(ev.Type)).Msg("Change event without identity ignored")
		return
	}

	switch ev.Type {
	case source.EventDelete:
		s.buf.Delete(rec.Identity)
	case source.EventInsert, source.EventUpdate:
		fetchedAt := ev.OccurredAt
		if fetchedAt.IsZero() {
			fetchedAt = time.Now().UTC()
		}
		s.buf.ApplyServerBatch([]model.CanonicalRecord{rec}, fetchedAt)
	default:
		s.log.Warn().Str("event", string(ev.Type)).Msg("Unknown change event type ignored")
	}
}
