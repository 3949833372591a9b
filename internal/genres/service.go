// Package genres keeps the genre taxonomy. The local table is filled once
// from the API and read from then on.
package genres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mmcdole/tagline/internal/domain"
)

var kinds = []domain.MediaKind{domain.MediaKindMovie, domain.MediaKindTV}

// Service is the taxonomy cache manager
type Service struct {
	store  domain.LocalStore
	client domain.MetadataClient
	logger *slog.Logger

	populateMu sync.Mutex
}

// NewService creates a genre service
func NewService(store domain.LocalStore, client domain.MetadataClient, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, client: client, logger: logger}
}

// All returns every genre, deduplicated by id and ordered by id.
// The remote lists are fetched only while the local table is empty.
func (s *Service) All(ctx context.Context) ([]domain.Genre, error) {
	if genres, ok, err := s.local(); err != nil || ok {
		return genres, err
	}

	s.populateMu.Lock()
	defer s.populateMu.Unlock()

	// Another caller may have filled the table while we waited
	if genres, ok, err := s.local(); err != nil || ok {
		return genres, err
	}
	return s.populate(ctx)
}

// NamesForIDs resolves ids from the local table. Unknown ids are omitted.
func (s *Service) NamesForIDs(ids []int) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	return s.store.GenreNames(ids)
}

// ByKind returns the list for one kind straight from the API, since the local
// table holds one row per id and ids are shared between kinds. When the API
// is unavailable the locally tagged rows are returned instead.
func (s *Service) ByKind(ctx context.Context, kind domain.MediaKind) ([]domain.Genre, error) {
	remote, err := s.client.FetchGenres(ctx, kind)
	if err == nil {
		return remote, nil
	}

	cached, lerr := s.store.GenresByKind(kind)
	if lerr != nil || len(cached) == 0 {
		return nil, fmt.Errorf("%s genres: %w", kind, err)
	}
	s.logger.Warn("serving cached genres", "kind", kind, "error", err)
	return toGenres(cached), nil
}

// Refresh wipes the local table and fetches both lists again
func (s *Service) Refresh(ctx context.Context) ([]domain.Genre, error) {
	s.populateMu.Lock()
	defer s.populateMu.Unlock()

	if err := s.store.DeleteAllGenres(); err != nil {
		return nil, fmt.Errorf("clear genres: %w", err)
	}
	return s.populate(ctx)
}

func (s *Service) local() ([]domain.Genre, bool, error) {
	n, err := s.store.CountGenres()
	if err != nil {
		return nil, false, fmt.Errorf("count genres: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}
	cached, err := s.store.AllGenres()
	if err != nil {
		return nil, false, fmt.Errorf("read genres: %w", err)
	}
	s.logger.Debug("genre cache hit", "count", len(cached))
	return toGenres(cached), true, nil
}

// populate fetches both lists concurrently and persists them tagged by kind.
// Caller holds populateMu.
func (s *Service) populate(ctx context.Context) ([]domain.Genre, error) {
	lists := make([][]domain.Genre, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			genres, err := s.client.FetchGenres(gctx, kind)
			if err != nil {
				return fmt.Errorf("%s genres: %w", kind, err)
			}
			lists[i] = genres
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var rows []domain.CachedGenre
	for i, kind := range kinds {
		for _, genre := range lists[i] {
			rows = append(rows, domain.CachedGenre{ID: genre.ID, Name: genre.Name, Kind: kind})
		}
	}
	if err := s.store.PutGenres(rows); err != nil {
		return nil, fmt.Errorf("persist genres: %w", err)
	}
	s.logger.Info("genres cached", "count", len(rows))

	return toGenres(dedupe(rows)), nil
}

// dedupe keeps the first row for each id and orders by id
func dedupe(rows []domain.CachedGenre) []domain.CachedGenre {
	seen := make(map[int]bool, len(rows))
	out := make([]domain.CachedGenre, 0, len(rows))
	for _, r := range rows {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func toGenres(rows []domain.CachedGenre) []domain.Genre {
	rows = dedupe(rows)
	out := make([]domain.Genre, len(rows))
	for i, r := range rows {
		out[i] = domain.Genre{ID: r.ID, Name: r.Name}
	}
	return out
}
