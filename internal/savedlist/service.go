// Package savedlist keeps the user's saved list in sync with the remote
// list store and guards the one-copy-per-title rule on writes.
package savedlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/tagline/internal/domain"
)

// Service is the saved-list synchronizer
type Service struct {
	store   domain.ListStore
	session domain.Session
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a synchronizer over store, scoped by session
func NewService(store domain.ListStore, session domain.Session, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, session: session, logger: logger, now: time.Now}
}

func (s *Service) user() (string, error) {
	if s.session == nil {
		return "", domain.ErrUnauthenticated
	}
	id, ok := s.session.CurrentUser()
	if !ok || id == "" {
		return "", domain.ErrUnauthenticated
	}
	return id, nil
}

// Observe opens a live view of the list, optionally limited to one kind.
// The returned Feed must be closed to release the remote subscription.
func (s *Service) Observe(ctx context.Context, kind *domain.MediaKind) (*Feed, error) {
	uid, err := s.user()
	if err != nil {
		return nil, err
	}

	sub, err := s.store.Subscribe(ctx, uid, domain.ListQuery{Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("observe saved list: %w", err)
	}

	f := newFeed(sub)
	go f.pump(s.decodeAll)
	return f, nil
}

// Add saves item and returns its document id. Returns domain.ErrConflict
// when the same (sourceID, kind) is already saved.
func (s *Service) Add(ctx context.Context, item domain.SavedItem) (string, error) {
	uid, err := s.user()
	if err != nil {
		return "", err
	}
	if !item.Kind.Valid() {
		return "", fmt.Errorf("media kind %d: %w", item.Kind, domain.ErrInvalidQuery)
	}

	now := s.now()
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}
	s.normalizeWatched(&item, now)

	doc, err := encode(item)
	if err != nil {
		return "", err
	}

	var id string
	if ca, ok := s.store.(domain.ConditionalAdder); ok {
		id, err = ca.AddIfAbsent(ctx, uid, doc)
	} else {
		id, err = s.checkAndAdd(ctx, uid, doc)
	}
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Debug("item already saved", "sourceID", item.SourceID, "kind", item.Kind)
		}
		return "", err
	}

	s.logger.Info("item saved", "sourceID", item.SourceID, "kind", item.Kind, "id", id)
	return id, nil
}

// checkAndAdd is the read-then-write path for stores without a conditional add.
// Two concurrent writers can both pass the check; Reconcile removes the extra copy.
func (s *Service) checkAndAdd(ctx context.Context, uid string, doc domain.ListDocument) (string, error) {
	existing, err := s.store.Query(ctx, uid, keyQuery(doc.SourceID, doc.Kind))
	if err != nil {
		return "", fmt.Errorf("check saved item: %w", err)
	}
	if len(existing) > 0 {
		return "", fmt.Errorf("%s: %w", domain.SavedKey(doc.SourceID, doc.Kind), domain.ErrConflict)
	}
	return s.store.Add(ctx, uid, doc)
}

// Remove deletes a saved item by document id
func (s *Service) Remove(ctx context.Context, id string) error {
	uid, err := s.user()
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, uid, id)
}

// Update writes item back under its id, keeping the watched pairing consistent.
// Changing the key to one that is already saved returns domain.ErrConflict.
func (s *Service) Update(ctx context.Context, item domain.SavedItem) error {
	uid, err := s.user()
	if err != nil {
		return err
	}
	if item.ID == "" {
		return fmt.Errorf("update saved item: %w", domain.ErrNotFound)
	}

	if err := s.checkRekey(ctx, uid, item); err != nil {
		return err
	}

	s.normalizeWatched(&item, s.now())
	doc, err := encode(item)
	if err != nil {
		return err
	}
	doc.ID = item.ID
	return s.store.Update(ctx, uid, doc)
}

// checkRekey refuses to move item onto a (sourceID, kind) another
// document already holds
func (s *Service) checkRekey(ctx context.Context, uid string, item domain.SavedItem) error {
	old, err := s.store.Get(ctx, uid, item.ID)
	switch {
	case errors.Is(err, domain.ErrMalformedResponse):
		old = nil // Stored key unknown, check the target anyway
	case err != nil:
		return err
	}
	if old != nil && old.SourceID == item.SourceID && old.Kind == item.Kind {
		return nil
	}

	docs, err := s.store.Query(ctx, uid, keyQuery(item.SourceID, item.Kind))
	if err != nil {
		return fmt.Errorf("check saved item: %w", err)
	}
	for _, doc := range docs {
		if doc.ID != item.ID {
			return fmt.Errorf("%s: %w", item.Key(), domain.ErrConflict)
		}
	}
	return nil
}

// Get returns one saved item
func (s *Service) Get(ctx context.Context, id string) (*domain.SavedItem, error) {
	uid, err := s.user()
	if err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, uid, id)
	if err != nil {
		return nil, err
	}
	item, err := decode(*doc)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SetWatched flips the watched flag. WatchedAt is set to now when watched
// and cleared otherwise.
func (s *Service) SetWatched(ctx context.Context, id string, watched bool) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	item.SetWatched(watched, s.now())
	return s.Update(ctx, *item)
}

// Exists reports whether (sourceID, kind) is in the list
func (s *Service) Exists(ctx context.Context, sourceID int, kind domain.MediaKind) (bool, error) {
	uid, err := s.user()
	if err != nil {
		return false, err
	}
	docs, err := s.store.Query(ctx, uid, keyQuery(sourceID, kind))
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// Reconcile deletes duplicate copies of the same (sourceID, kind),
// keeping the one added first. Returns the number removed.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	uid, err := s.user()
	if err != nil {
		return 0, err
	}
	docs, err := s.store.Query(ctx, uid, domain.ListQuery{})
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}

	keep := make(map[string]domain.ListDocument)
	var extra []string
	for _, doc := range docs {
		if len(doc.Body) == 0 {
			continue // No trustworthy key
		}
		key := domain.SavedKey(doc.SourceID, doc.Kind)
		kept, seen := keep[key]
		if !seen {
			keep[key] = doc
			continue
		}
		if doc.AddedAt.Before(kept.AddedAt) || (doc.AddedAt.Equal(kept.AddedAt) && doc.ID < kept.ID) {
			keep[key] = doc
			extra = append(extra, kept.ID)
		} else {
			extra = append(extra, doc.ID)
		}
	}

	removed := 0
	for _, id := range extra {
		if err := s.store.Delete(ctx, uid, id); err != nil {
			return removed, fmt.Errorf("reconcile: %w", err)
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed duplicate saved items", "count", removed)
	}
	return removed, nil
}

func (s *Service) normalizeWatched(item *domain.SavedItem, now time.Time) {
	switch {
	case !item.Watched:
		item.WatchedAt = nil
	case item.WatchedAt == nil:
		item.SetWatched(true, now)
	}
}

// decodeAll converts a snapshot, skipping documents that fail to decode
func (s *Service) decodeAll(docs []domain.ListDocument) []domain.SavedItem {
	items := make([]domain.SavedItem, 0, len(docs))
	for _, doc := range docs {
		item, err := decode(doc)
		if err != nil {
			s.logger.Warn("skipping malformed saved item", "id", doc.ID, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items
}

func keyQuery(sourceID int, kind domain.MediaKind) domain.ListQuery {
	return domain.ListQuery{SourceID: &sourceID, Kind: &kind}
}

func encode(item domain.SavedItem) (domain.ListDocument, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return domain.ListDocument{}, fmt.Errorf("encode saved item: %w", err)
	}
	return domain.ListDocument{
		SourceID: item.SourceID,
		Kind:     item.Kind,
		AddedAt:  item.AddedAt,
		Body:     body,
	}, nil
}

// decode rebuilds a SavedItem. Envelope fields win over the body.
func decode(doc domain.ListDocument) (domain.SavedItem, error) {
	var item domain.SavedItem
	if len(doc.Body) == 0 {
		return item, fmt.Errorf("document %s: empty body: %w", doc.ID, domain.ErrMalformedResponse)
	}
	if err := json.Unmarshal(doc.Body, &item); err != nil {
		return item, fmt.Errorf("document %s: %w: %v", doc.ID, domain.ErrMalformedResponse, err)
	}
	item.ID = doc.ID
	item.SourceID = doc.SourceID
	item.Kind = doc.Kind
	item.AddedAt = doc.AddedAt
	if !item.Watched {
		item.WatchedAt = nil
	}
	return item, nil
}
