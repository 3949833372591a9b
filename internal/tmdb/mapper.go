package tmdb

import (
	"sort"

	"github.com/mmcdole/tagline/internal/domain"
)

// MapSearchPage converts a multi-search response, dropping people and unknown types
func MapSearchPage(resp *SearchResponse) *domain.SearchPage {
	page := &domain.SearchPage{
		Page:         resp.Page,
		TotalPages:   resp.TotalPages,
		TotalResults: resp.TotalResults,
		Results:      make([]domain.SearchResult, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		if r.MediaType != "movie" && r.MediaType != "tv" {
			continue
		}
		page.Results = append(page.Results, mapSearchResult(r))
	}
	return page
}

func mapSearchResult(r SearchResult) domain.SearchResult {
	kind, _ := domain.ParseMediaKind(r.MediaType)
	return domain.SearchResult{
		SourceID:      r.ID,
		Kind:          kind,
		Title:         firstNonEmpty(r.Title, r.Name, "Unknown"),
		OriginalTitle: firstNonEmpty(r.OriginalTitle, r.OriginalName),
		Overview:      r.Overview,
		PosterPath:    r.PosterPath,
		BackdropPath:  r.BackdropPath,
		ReleaseDate:   firstNonEmpty(r.ReleaseDate, r.FirstAirDate),
		VoteAverage:   r.VoteAverage,
		VoteCount:     r.VoteCount,
		GenreIDs:      r.GenreIDs,
		Popularity:    r.Popularity,
	}
}

func mapGenres(dtos []GenreDTO) []domain.Genre {
	genres := make([]domain.Genre, len(dtos))
	for i, g := range dtos {
		genres[i] = domain.Genre{ID: g.ID, Name: g.Name}
	}
	return genres
}

// MapMovie converts a movie payload
func MapMovie(m *MovieDetails) *domain.Detail {
	return &domain.Detail{
		SourceID:       m.ID,
		Kind:           domain.MediaKindMovie,
		Title:          m.Title,
		OriginalTitle:  m.OriginalTitle,
		Overview:       m.Overview,
		PosterPath:     m.PosterPath,
		BackdropPath:   m.BackdropPath,
		ReleaseDate:    m.ReleaseDate,
		VoteAverage:    m.VoteAverage,
		VoteCount:      m.VoteCount,
		RuntimeMinutes: m.Runtime,
		Genres:         mapGenres(m.Genres),
		Tagline:        m.Tagline,
		Status:         m.Status,
		IMDbID:         m.IMDbID,
		Source:         domain.SourceNetwork,
	}
}

// MapTV converts a TV payload. Runtime is the first listed episode run time.
func MapTV(t *TVDetails) *domain.Detail {
	var runtime *int
	if len(t.EpisodeRunTime) > 0 {
		r := t.EpisodeRunTime[0]
		runtime = &r
	}
	return &domain.Detail{
		SourceID:       t.ID,
		Kind:           domain.MediaKindTV,
		Title:          t.Name,
		OriginalTitle:  t.OriginalName,
		Overview:       t.Overview,
		PosterPath:     t.PosterPath,
		BackdropPath:   t.BackdropPath,
		ReleaseDate:    t.FirstAirDate,
		VoteAverage:    t.VoteAverage,
		VoteCount:      t.VoteCount,
		RuntimeMinutes: runtime,
		Genres:         mapGenres(t.Genres),
		Tagline:        t.Tagline,
		Status:         t.Status,
		SeasonCount:    t.NumberOfSeasons,
		EpisodeCount:   t.NumberOfEpisodes,
		Source:         domain.SourceNetwork,
	}
}

func mapProviders(dtos []WatchProviderDTO) []domain.WatchProvider {
	if len(dtos) == 0 {
		return nil
	}
	providers := make([]domain.WatchProvider, len(dtos))
	for i, p := range dtos {
		providers[i] = domain.WatchProvider{
			ID:              p.ProviderID,
			Name:            p.ProviderName,
			LogoPath:        p.LogoPath,
			DisplayPriority: p.DisplayPriority,
		}
	}
	sort.SliceStable(providers, func(i, j int) bool {
		return providers[i].DisplayPriority < providers[j].DisplayPriority
	})
	return providers
}

// MapWatchProviders converts one country's entry
func MapWatchProviders(country string, c CountryWatchProviders) *domain.WatchProviders {
	return &domain.WatchProviders{
		Country:  country,
		Link:     c.Link,
		Flatrate: mapProviders(c.Flatrate),
		Rent:     mapProviders(c.Rent),
		Buy:      mapProviders(c.Buy),
		Free:     mapProviders(c.Free),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
