package liststore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mmcdole/tagline/internal/domain"
)

type memorySub struct {
	sub   *subscription
	query domain.ListQuery
}

// Memory is an in-process ListStore. It has no conditional add, so callers
// fall back to check-then-write.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]map[string]domain.ListDocument
	subs    map[string]map[*memorySub]struct{}
	offline bool
}

// NewMemory creates an empty in-process store
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]map[string]domain.ListDocument),
		subs: make(map[string]map[*memorySub]struct{}),
	}
}

// SetOffline makes every call fail with domain.ErrNetwork while true
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

func (m *Memory) checkLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.offline {
		return fmt.Errorf("list store offline: %w", domain.ErrNetwork)
	}
	return nil
}

func (m *Memory) Add(ctx context.Context, userID string, doc domain.ListDocument) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx); err != nil {
		return "", err
	}

	doc.ID = uuid.NewString()
	if m.docs[userID] == nil {
		m.docs[userID] = make(map[string]domain.ListDocument)
	}
	m.docs[userID][doc.ID] = doc
	m.notifyLocked(userID)
	return doc.ID, nil
}

func (m *Memory) Update(ctx context.Context, userID string, doc domain.ListDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx); err != nil {
		return err
	}

	if _, ok := m.docs[userID][doc.ID]; !ok {
		return fmt.Errorf("document %s: %w", doc.ID, domain.ErrNotFound)
	}
	m.docs[userID][doc.ID] = doc
	m.notifyLocked(userID)
	return nil
}

func (m *Memory) Delete(ctx context.Context, userID string, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx); err != nil {
		return err
	}

	if _, ok := m.docs[userID][docID]; !ok {
		return nil
	}
	delete(m.docs[userID], docID)
	m.notifyLocked(userID)
	return nil
}

func (m *Memory) Get(ctx context.Context, userID string, docID string) (*domain.ListDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx); err != nil {
		return nil, err
	}

	doc, ok := m.docs[userID][docID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, domain.ErrNotFound)
	}
	return &doc, nil
}

func (m *Memory) Query(ctx context.Context, userID string, q domain.ListQuery) ([]domain.ListDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx); err != nil {
		return nil, err
	}
	return m.snapshotLocked(userID, q), nil
}

func (m *Memory) Subscribe(ctx context.Context, userID string, q domain.ListQuery) (domain.ListSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx); err != nil {
		return nil, err
	}

	ms := &memorySub{query: q}
	ms.sub = newSubscription(func() error {
		m.mu.Lock()
		delete(m.subs[userID], ms)
		m.mu.Unlock()
		return nil
	})
	if m.subs[userID] == nil {
		m.subs[userID] = make(map[*memorySub]struct{})
	}
	m.subs[userID][ms] = struct{}{}

	ms.sub.deliver(m.snapshotLocked(userID, q))
	ms.sub.closeOnCancel(ctx)
	return ms.sub, nil
}

// Subscribers reports the number of live subscriptions for userID
func (m *Memory) Subscribers(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[userID])
}

func (m *Memory) snapshotLocked(userID string, q domain.ListQuery) []domain.ListDocument {
	docs := make([]domain.ListDocument, 0, len(m.docs[userID]))
	for _, doc := range m.docs[userID] {
		docs = append(docs, doc)
	}
	return filterDocuments(docs, q)
}

func (m *Memory) notifyLocked(userID string) {
	for ms := range m.subs[userID] {
		ms.sub.deliver(m.snapshotLocked(userID, ms.query))
	}
}
