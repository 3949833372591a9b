// Package history keeps the bounded, most-recent-first search history.
package history

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/mmcdole/tagline/internal/domain"
)

const (
	// DefaultLimit is the number of entries kept after each insert
	DefaultLimit = 20

	defaultSuggestLimit = 10
)

// Service is the search history manager
type Service struct {
	store  domain.LocalStore
	limit  int
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a history service keeping at most limit entries
func NewService(store domain.LocalStore, limit int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{store: store, limit: limit, logger: logger, now: time.Now}
}

// Limit returns the retention bound
func (s *Service) Limit() int {
	return s.limit
}

// RecordQuery bumps an existing entry or inserts a new one, then trims.
// Matching is exact after surrounding whitespace is removed.
func (s *Service) RecordQuery(text string) error {
	query := strings.TrimSpace(text)
	if query == "" {
		return fmt.Errorf("record query: %w", domain.ErrInvalidQuery)
	}

	at := s.now()
	updated, err := s.store.TouchQuery(query, at)
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	if updated > 0 {
		return nil
	}

	if _, err := s.store.InsertQuery(query, at); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	trimmed, err := s.store.TrimQueries(s.limit)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	if trimmed > 0 {
		s.logger.Debug("trimmed search history", "removed", trimmed)
	}
	return nil
}

// Recent returns up to limit entries, most recent first. limit <= 0 means the retention bound.
func (s *Service) Recent(limit int) ([]domain.SearchHistoryEntry, error) {
	if limit <= 0 {
		limit = s.limit
	}
	return s.store.RecentQueries(limit)
}

// Forget removes the entry for text
func (s *Service) Forget(text string) error {
	return s.store.DeleteQuery(strings.TrimSpace(text))
}

// ForgetID removes one entry by id
func (s *Service) ForgetID(id uint64) error {
	return s.store.DeleteQueryByID(id)
}

// Clear removes every entry
func (s *Service) Clear() error {
	return s.store.DeleteAllQueries()
}

// Suggest returns past queries fuzzily matching prefix, closest first.
// Equal matches keep recency order. A blank prefix returns the most recent entries.
func (s *Service) Suggest(prefix string, limit int) ([]domain.SearchHistoryEntry, error) {
	if limit <= 0 {
		limit = defaultSuggestLimit
	}

	entries, err := s.store.RecentQueries(0)
	if err != nil {
		return nil, err
	}

	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		if len(entries) > limit {
			entries = entries[:limit]
		}
		return entries, nil
	}

	queries := make([]string, len(entries))
	for i, e := range entries {
		queries[i] = e.Query
	}

	ranks := fuzzy.RankFindFold(prefix, queries)
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Distance != ranks[j].Distance {
			return ranks[i].Distance < ranks[j].Distance
		}
		return ranks[i].OriginalIndex < ranks[j].OriginalIndex
	})

	out := make([]domain.SearchHistoryEntry, 0, min(len(ranks), limit))
	for _, r := range ranks {
		if len(out) == limit {
			break
		}
		out = append(out, entries[r.OriginalIndex])
	}
	return out, nil
}
