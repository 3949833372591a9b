package domain

import (
	"fmt"
	"strings"
	"time"
)

// MediaKind distinguishes movies from TV series
type MediaKind int

const (
	MediaKindMovie MediaKind = iota
	MediaKindTV
)

// String returns the lowercase API name ("movie" or "tv")
func (k MediaKind) String() string {
	switch k {
	case MediaKindTV:
		return "tv"
	default:
		return "movie"
	}
}

// Valid reports whether k is a known kind
func (k MediaKind) Valid() bool {
	return k == MediaKindMovie || k == MediaKindTV
}

// ParseMediaKind maps API and stored names to a MediaKind.
// Unknown values resolve to MediaKindMovie with ok=false.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return MediaKindMovie, true
	case "tv", "tv_series", "show", "series":
		return MediaKindTV, true
	default:
		return MediaKindMovie, false
	}
}

// DetailSource records where a Detail came from
type DetailSource int

const (
	SourceNetwork DetailSource = iota // Fetched now and persisted
	SourceCache                       // Fresh local copy, no network call
	SourceStale                       // Expired local copy served because the fetch failed
)

func (s DetailSource) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceStale:
		return "stale"
	default:
		return "network"
	}
}

// Genre is a taxonomy entry. IDs are unique across kinds.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Detail is the full metadata for a movie or TV series
type Detail struct {
	SourceID       int       `json:"sourceId"`
	Kind           MediaKind `json:"kind"`
	Title          string    `json:"title"`
	OriginalTitle  string    `json:"originalTitle,omitempty"`
	Overview       string    `json:"overview,omitempty"`
	PosterPath     string    `json:"posterPath,omitempty"`
	BackdropPath   string    `json:"backdropPath,omitempty"`
	ReleaseDate    string    `json:"releaseDate,omitempty"` // YYYY-MM-DD (first air date for TV)
	VoteAverage    float64   `json:"voteAverage"`           // 0-10, never rounded here
	VoteCount      int       `json:"voteCount"`
	RuntimeMinutes *int      `json:"runtimeMinutes,omitempty"`
	Genres         []Genre   `json:"genres,omitempty"`
	Tagline        string    `json:"tagline,omitempty"`
	Status         string    `json:"status,omitempty"`
	IMDbID         string    `json:"imdbId,omitempty"`

	// TV only
	SeasonCount  int `json:"seasonCount,omitempty"`
	EpisodeCount int `json:"episodeCount,omitempty"`

	Source   DetailSource `json:"-"`
	CachedAt time.Time    `json:"-"` // Zero unless served from the local cache
}

// Year returns the release year prefix, or "" if unknown
func (d *Detail) Year() string {
	if len(d.ReleaseDate) < 4 {
		return ""
	}
	return d.ReleaseDate[:4]
}

// GenreNames returns genre names in order
func (d *Detail) GenreNames() []string {
	names := make([]string, len(d.Genres))
	for i, g := range d.Genres {
		names[i] = g.Name
	}
	return names
}

// GenreIDs returns genre ids in order
func (d *Detail) GenreIDs() []int {
	ids := make([]int, len(d.Genres))
	for i, g := range d.Genres {
		ids[i] = g.ID
	}
	return ids
}

// CachedDetail is the persisted form of a Detail.
// GenreNames and GenreIDs are parallel lists.
type CachedDetail struct {
	SourceID       int       `json:"id"`
	Kind           MediaKind `json:"mediaType"`
	Title          string    `json:"title"`
	OriginalTitle  string    `json:"originalTitle,omitempty"`
	Overview       string    `json:"overview,omitempty"`
	PosterPath     string    `json:"posterPath,omitempty"`
	BackdropPath   string    `json:"backdropPath,omitempty"`
	ReleaseDate    string    `json:"releaseDate,omitempty"`
	VoteAverage    float64   `json:"voteAverage"`
	VoteCount      int       `json:"voteCount"`
	RuntimeMinutes *int      `json:"runtime,omitempty"`
	GenreNames     []string  `json:"genres"`
	GenreIDs       []int     `json:"genreIds"`
	Tagline        string    `json:"tagline,omitempty"`
	Status         string    `json:"status,omitempty"`
	SeasonCount    *int      `json:"numberOfSeasons,omitempty"`
	EpisodeCount   *int      `json:"numberOfEpisodes,omitempty"`
	CachedAt       int64     `json:"cachedAt"` // epoch millis
}

// DetailKey returns the composite store key for (id, kind)
func DetailKey(id int, kind MediaKind) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// Key returns the composite store key
func (c *CachedDetail) Key() string {
	return DetailKey(c.SourceID, c.Kind)
}

// Validate checks the parallel genre list invariant
func (c *CachedDetail) Validate() error {
	if len(c.GenreNames) != len(c.GenreIDs) {
		return fmt.Errorf("%w: %d genre names for %d genre ids", ErrMalformedResponse, len(c.GenreNames), len(c.GenreIDs))
	}
	return nil
}

// CachedTime returns CachedAt as a time.Time
func (c *CachedDetail) CachedTime() time.Time {
	return time.UnixMilli(c.CachedAt)
}

// IsExpired reports whether the entry is older than ttl at now
func (c *CachedDetail) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.UnixMilli()-c.CachedAt > ttl.Milliseconds()
}

// NewCachedDetail snapshots d for persistence at the given time
func NewCachedDetail(d *Detail, at time.Time) *CachedDetail {
	c := &CachedDetail{
		SourceID:       d.SourceID,
		Kind:           d.Kind,
		Title:          d.Title,
		OriginalTitle:  d.OriginalTitle,
		Overview:       d.Overview,
		PosterPath:     d.PosterPath,
		BackdropPath:   d.BackdropPath,
		ReleaseDate:    d.ReleaseDate,
		VoteAverage:    d.VoteAverage,
		VoteCount:      d.VoteCount,
		RuntimeMinutes: d.RuntimeMinutes,
		GenreNames:     d.GenreNames(),
		GenreIDs:       d.GenreIDs(),
		Tagline:        d.Tagline,
		Status:         d.Status,
		CachedAt:       at.UnixMilli(),
	}
	if d.Kind == MediaKindTV {
		seasons, episodes := d.SeasonCount, d.EpisodeCount
		c.SeasonCount = &seasons
		c.EpisodeCount = &episodes
	}
	return c
}

// ToDetail rebuilds a Detail, zipping the parallel genre lists
func (c *CachedDetail) ToDetail() *Detail {
	n := min(len(c.GenreNames), len(c.GenreIDs))
	genres := make([]Genre, n)
	for i := 0; i < n; i++ {
		genres[i] = Genre{ID: c.GenreIDs[i], Name: c.GenreNames[i]}
	}

	original := c.OriginalTitle
	if original == "" {
		original = c.Title
	}

	d := &Detail{
		SourceID:       c.SourceID,
		Kind:           c.Kind,
		Title:          c.Title,
		OriginalTitle:  original,
		Overview:       c.Overview,
		PosterPath:     c.PosterPath,
		BackdropPath:   c.BackdropPath,
		ReleaseDate:    c.ReleaseDate,
		VoteAverage:    c.VoteAverage,
		VoteCount:      c.VoteCount,
		RuntimeMinutes: c.RuntimeMinutes,
		Genres:         genres,
		Tagline:        c.Tagline,
		Status:         c.Status,
		Source:         SourceCache,
		CachedAt:       c.CachedTime(),
	}
	if c.SeasonCount != nil {
		d.SeasonCount = *c.SeasonCount
	}
	if c.EpisodeCount != nil {
		d.EpisodeCount = *c.EpisodeCount
	}
	return d
}

// CachedGenre is a persisted taxonomy entry tagged with the list it came from
type CachedGenre struct {
	ID   int       `json:"id"`
	Name string    `json:"name"`
	Kind MediaKind `json:"type"`
}

// SearchHistoryEntry is one remembered query
type SearchHistoryEntry struct {
	ID             uint64 `json:"id"`
	Query          string `json:"query"`
	LastSearchedAt int64  `json:"timestamp"` // epoch millis
}

// SearchedAt returns LastSearchedAt as a time.Time
func (e SearchHistoryEntry) SearchedAt() time.Time {
	return time.UnixMilli(e.LastSearchedAt)
}

// SearchResult is one movie or TV hit from a text search
type SearchResult struct {
	SourceID      int       `json:"id"`
	Kind          MediaKind `json:"kind"`
	Title         string    `json:"title"`
	OriginalTitle string    `json:"originalTitle,omitempty"`
	Overview      string    `json:"overview,omitempty"`
	PosterPath    string    `json:"posterPath,omitempty"`
	BackdropPath  string    `json:"backdropPath,omitempty"`
	ReleaseDate   string    `json:"releaseDate,omitempty"`
	VoteAverage   float64   `json:"voteAverage"`
	VoteCount     int       `json:"voteCount"`
	GenreIDs      []int     `json:"genreIds,omitempty"`
	Popularity    float64   `json:"popularity,omitempty"`
}

// Year returns the release year prefix, or "" if unknown
func (r SearchResult) Year() string {
	if len(r.ReleaseDate) < 4 {
		return ""
	}
	return r.ReleaseDate[:4]
}

// SearchPage is one page of search results
type SearchPage struct {
	Page         int
	Results      []SearchResult
	TotalPages   int
	TotalResults int
}

// WatchProvider is a streaming/rental service offering a title
type WatchProvider struct {
	ID              int    `json:"providerId"`
	Name            string `json:"providerName"`
	LogoPath        string `json:"logoPath,omitempty"`
	DisplayPriority int    `json:"displayPriority"`
}

// WatchProviders lists where a title can be watched in one country
type WatchProviders struct {
	Country  string
	Link     string
	Flatrate []WatchProvider
	Rent     []WatchProvider
	Buy      []WatchProvider
	Free     []WatchProvider
}

// IsEmpty reports whether no provider of any type is listed
func (w *WatchProviders) IsEmpty() bool {
	return len(w.Flatrate)+len(w.Rent)+len(w.Buy)+len(w.Free) == 0
}

// SavedItem is an entry in the user's personal list.
// WatchedAt is non-nil iff Watched.
type SavedItem struct {
	ID           string     `json:"-"` // Store-assigned document id
	SourceID     int        `json:"tmdbId"`
	Title        string     `json:"title"`
	Kind         MediaKind  `json:"-"`
	PosterPath   string     `json:"posterPath,omitempty"`
	BackdropPath string     `json:"backdropPath,omitempty"`
	Rating       float64    `json:"rating"`
	Genres       []string   `json:"genres"`
	GenreIDs     []int      `json:"genreIds"`
	Overview     string     `json:"overview,omitempty"`
	ReleaseYear  string     `json:"releaseYear,omitempty"`
	AddedAt      time.Time  `json:"addedAt"`
	Watched      bool       `json:"watched"`
	WatchedAt    *time.Time `json:"watchedAt"`
	UserNotes    string     `json:"userNotes,omitempty"`
}

// Key returns the (sourceID, kind) composite key
func (s *SavedItem) Key() string {
	return SavedKey(s.SourceID, s.Kind)
}

// SavedKey builds the composite key used for at-most-one-saved-copy checks
func SavedKey(sourceID int, kind MediaKind) string {
	return fmt.Sprintf("%s:%d", kind, sourceID)
}

// SetWatched updates the watched flag keeping WatchedAt consistent
func (s *SavedItem) SetWatched(watched bool, at time.Time) {
	s.Watched = watched
	if watched {
		t := at
		s.WatchedAt = &t
		return
	}
	s.WatchedAt = nil
}

// SavedItemFromResult builds a list entry from a search hit
func SavedItemFromResult(r SearchResult) SavedItem {
	return SavedItem{
		SourceID:     r.SourceID,
		Title:        r.Title,
		Kind:         r.Kind,
		PosterPath:   r.PosterPath,
		BackdropPath: r.BackdropPath,
		Rating:       r.VoteAverage,
		Genres:       []string{},
		GenreIDs:     append([]int{}, r.GenreIDs...),
		Overview:     r.Overview,
		ReleaseYear:  r.Year(),
	}
}

// SavedItemFromDetail builds a list entry from a full detail record
func SavedItemFromDetail(d *Detail) SavedItem {
	return SavedItem{
		SourceID:     d.SourceID,
		Title:        d.Title,
		Kind:         d.Kind,
		PosterPath:   d.PosterPath,
		BackdropPath: d.BackdropPath,
		Rating:       d.VoteAverage,
		Genres:       d.GenreNames(),
		GenreIDs:     d.GenreIDs(),
		Overview:     d.Overview,
		ReleaseYear:  d.Year(),
	}
}
