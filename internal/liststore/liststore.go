// Package liststore holds the remote saved-list document stores.
// Both implementations deliver full snapshots to subscribers on every change.
package liststore

import (
	"context"
	"sort"
	"sync"

	"github.com/mmcdole/tagline/internal/domain"
)

// sortDocuments orders by AddedAt descending, ID ascending on ties
func sortDocuments(docs []domain.ListDocument) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].AddedAt.Equal(docs[j].AddedAt) {
			return docs[i].AddedAt.After(docs[j].AddedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

// subscription is the shared ListSubscription handle.
// The updates channel holds at most one pending snapshot; a newer one replaces it.
type subscription struct {
	updates chan []domain.ListDocument
	done    chan struct{}

	mu      sync.Mutex
	closed  bool
	err     error
	release func() error
	once    sync.Once
}

func newSubscription(release func() error) *subscription {
	return &subscription{
		updates: make(chan []domain.ListDocument, 1),
		done:    make(chan struct{}),
		release: release,
	}
}

func (s *subscription) Updates() <-chan []domain.ListDocument {
	return s.updates
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// deliver queues docs, dropping any snapshot the consumer has not read yet.
// Returns false once the subscription is closed.
func (s *subscription) deliver(docs []domain.ListDocument) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.updates <- docs:
			return true
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

// fail records err and ends the subscription
func (s *subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Close()
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.updates)
		close(s.done)
		s.mu.Unlock()

		if s.release != nil {
			err = s.release()
		}
	})
	return err
}

// closeOnCancel ties the subscription's lifetime to ctx
func (s *subscription) closeOnCancel(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}

func filterDocuments(docs []domain.ListDocument, q domain.ListQuery) []domain.ListDocument {
	out := make([]domain.ListDocument, 0, len(docs))
	for _, doc := range docs {
		if q.Matches(doc) {
			out = append(out, doc)
		}
	}
	sortDocuments(out)
	return out
}

var (
	_ domain.ListStore        = (*Redis)(nil)
	_ domain.ConditionalAdder = (*Redis)(nil)
	_ domain.ListStore        = (*Memory)(nil)
)
