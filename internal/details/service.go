// Package details serves movie and TV detail lookups from the local cache,
// refreshing from the metadata API once an entry is older than the TTL.
package details

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/tagline/internal/domain"
)

const (
	DefaultTTL     = 24 * time.Hour
	DefaultCountry = "PT"

	// fetchTimeout bounds a shared fetch once it no longer follows any caller
	fetchTimeout = 30 * time.Second
)

// Service is the detail cache manager
type Service struct {
	store  domain.LocalStore
	client domain.MetadataClient
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group
}

// NewService creates a detail service. A non-positive ttl uses DefaultTTL.
func NewService(store domain.LocalStore, client domain.MetadataClient, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:  store,
		client: client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// GetDetails returns the cached entry while fresh. Otherwise it fetches and
// persists a new copy, falling back to the expired entry if the fetch fails.
func (s *Service) GetDetails(ctx context.Context, id int, kind domain.MediaKind) (*domain.Detail, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("media kind %d: %w", kind, domain.ErrInvalidQuery)
	}

	cached, hit := s.store.GetDetail(id, kind)
	if hit && !cached.IsExpired(s.now(), s.ttl) {
		s.logger.Debug("detail cache hit", "sourceID", id, "kind", kind)
		return cached.ToDetail(), nil
	}

	// The flight is shared, so one caller giving up must not fail the others.
	// Each caller still stops waiting when its own ctx ends.
	key := domain.DetailKey(id, kind)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return s.fetch(fctx, id, kind)
	})

	var (
		v      interface{}
		err    error
		shared bool
	)
	select {
	case res := <-ch:
		v, err, shared = res.Val, res.Err, res.Shared
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		if hit {
			s.logger.Warn("serving stale detail",
				"sourceID", id, "kind", kind,
				"cachedAt", cached.CachedTime(),
				"error", err)
			stale := cached.ToDetail()
			stale.Source = domain.SourceStale
			return stale, nil
		}
		return nil, fmt.Errorf("details %s: %w", key, err)
	}

	d := *v.(*domain.Detail)
	if shared {
		s.logger.Debug("detail fetch shared", "sourceID", id, "kind", kind)
	}
	return &d, nil
}

// fetch calls the API and writes the result through before returning it
func (s *Service) fetch(ctx context.Context, id int, kind domain.MediaKind) (*domain.Detail, error) {
	d, err := s.client.FetchDetails(ctx, id, kind)
	if err != nil {
		return nil, err
	}

	at := s.now()
	d.Source = domain.SourceNetwork
	d.CachedAt = at
	if err := s.store.PutDetail(domain.NewCachedDetail(d, at)); err != nil {
		s.logger.Error("failed to persist detail", "sourceID", id, "kind", kind, "error", err)
	}
	return d, nil
}

// Invalidate drops one cached entry
func (s *Service) Invalidate(id int, kind domain.MediaKind) error {
	return s.store.DeleteDetail(id, kind)
}

// SweepExpired deletes every entry older than the TTL
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteDetailsBefore(s.now().Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("sweep details: %w", err)
	}
	if n > 0 {
		s.logger.Info("swept expired details", "count", n)
	}
	return n, nil
}

// ClearAll drops every cached detail
func (s *Service) ClearAll() error {
	return s.store.DeleteAllDetails()
}

// WatchProviders is an uncached pass-through. Empty country means DefaultCountry.
func (s *Service) WatchProviders(ctx context.Context, id int, kind domain.MediaKind, country string) (*domain.WatchProviders, error) {
	country = strings.TrimSpace(country)
	if country == "" {
		country = DefaultCountry
	}
	return s.client.FetchWatchProviders(ctx, id, kind, country)
}
