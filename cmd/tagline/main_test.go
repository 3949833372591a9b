package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/tagline/internal/config"
	"github.com/mmcdole/tagline/internal/details"
	"github.com/mmcdole/tagline/internal/domain"
	"github.com/mmcdole/tagline/internal/genres"
	"github.com/mmcdole/tagline/internal/log"
	"github.com/mmcdole/tagline/internal/savedlist"
	"github.com/mmcdole/tagline/internal/store"
)

func TestSetupRepromptsForEmptyKey(t *testing.T) {
	cfg := config.DefaultConfig()
	in := strings.NewReader("\n  abc123  \nana\n")
	var out bytes.Buffer

	var saved *config.Config
	err := setup(cfg, in, &out, func(c *config.Config) error {
		saved = c
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "abc123", saved.TMDB.APIKey)
	assert.Equal(t, "ana", saved.Session.UserID)
	assert.Contains(t, out.String(), "API key cannot be empty")
}

func TestSetupFailsOnEOFWithoutKey(t *testing.T) {
	err := setup(config.DefaultConfig(), strings.NewReader(""), &bytes.Buffer{}, func(*config.Config) error {
		t.Fatal("must not save")
		return nil
	})
	assert.Error(t, err)
}

func TestSetupReportsSaveFailure(t *testing.T) {
	err := setup(config.DefaultConfig(), strings.NewReader("key\n\n"), &bytes.Buffer{}, func(*config.Config) error {
		return errors.New("read-only")
	})
	assert.ErrorContains(t, err, "read-only")
}

func TestParseKindID(t *testing.T) {
	kind, id, err := parseKindID([]string{"tv", "1399"})
	require.NoError(t, err)
	assert.Equal(t, domain.MediaKindTV, kind)
	assert.Equal(t, 1399, id)

	_, _, err = parseKindID([]string{"person", "1"})
	assert.Error(t, err)
	_, _, err = parseKindID([]string{"movie", "x"})
	assert.Error(t, err)
	_, _, err = parseKindID([]string{"movie"})
	assert.ErrorIs(t, err, errUsage)
}

func TestParseKindFilter(t *testing.T) {
	kind, err := parseKindFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, kind)

	kind, err = parseKindFilter([]string{"movie"})
	require.NoError(t, err)
	require.NotNil(t, kind)
	assert.Equal(t, domain.MediaKindMovie, *kind)
}

// offlineDetails serves genre lists but cannot reach detail records
type offlineDetails struct{}

func (offlineDetails) FetchDetails(ctx context.Context, id int, kind domain.MediaKind) (*domain.Detail, error) {
	return nil, fmt.Errorf("details: %w", domain.ErrNetwork)
}

func (offlineDetails) SearchByText(ctx context.Context, text string, page int) (*domain.SearchPage, error) {
	return nil, domain.ErrNetwork
}

func (offlineDetails) FetchGenres(ctx context.Context, kind domain.MediaKind) ([]domain.Genre, error) {
	if kind == domain.MediaKindTV {
		return []domain.Genre{{ID: 18, Name: "Drama"}, {ID: 10765, Name: "Sci-Fi & Fantasy"}}, nil
	}
	return []domain.Genre{{ID: 18, Name: "Drama"}, {ID: 80, Name: "Crime"}}, nil
}

func (offlineDetails) FetchWatchProviders(ctx context.Context, id int, kind domain.MediaKind, country string) (*domain.WatchProviders, error) {
	return nil, domain.ErrNetwork
}

func TestSavedItemFromResultCarriesGenreNames(t *testing.T) {
	st, err := store.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := log.NullLogger()
	a := &app{
		logger:  logger,
		details: details.NewService(st, offlineDetails{}, 0, logger),
		genres:  genres.NewService(st, offlineDetails{}, logger),
	}

	res := domain.SearchResult{
		SourceID:    949,
		Kind:        domain.MediaKindMovie,
		Title:       "Heat",
		ReleaseDate: "1995-12-15",
		GenreIDs:    []int{80, 18, 4242},
	}
	item := a.savedItem(context.Background(), res)

	assert.Equal(t, []string{"Crime", "Drama"}, item.Genres, "unknown ids are omitted")
	assert.Equal(t, []int{80, 18, 4242}, item.GenreIDs)
	assert.Equal(t, "1995", item.ReleaseYear)

	matched := savedlist.Filter([]domain.SavedItem{item}, savedlist.Criteria{Genre: "Drama"})
	assert.Len(t, matched, 1)
}
