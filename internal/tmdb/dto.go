package tmdb

// SearchResponse is the envelope for /search/multi
type SearchResponse struct {
	Page         int            `json:"page"`
	Results      []SearchResult `json:"results"`
	TotalPages   int            `json:"total_pages"`
	TotalResults int            `json:"total_results"`
}

// SearchResult is one multi-search hit (movie, tv or person)
type SearchResult struct {
	ID            int     `json:"id"`
	MediaType     string  `json:"media_type"`
	Title         string  `json:"title,omitempty"` // movies
	Name          string  `json:"name,omitempty"`  // tv, people
	OriginalTitle string  `json:"original_title,omitempty"`
	OriginalName  string  `json:"original_name,omitempty"`
	Overview      string  `json:"overview,omitempty"`
	PosterPath    string  `json:"poster_path,omitempty"`
	BackdropPath  string  `json:"backdrop_path,omitempty"`
	ReleaseDate   string  `json:"release_date,omitempty"`
	FirstAirDate  string  `json:"first_air_date,omitempty"`
	VoteAverage   float64 `json:"vote_average,omitempty"`
	VoteCount     int     `json:"vote_count,omitempty"`
	GenreIDs      []int   `json:"genre_ids,omitempty"`
	Popularity    float64 `json:"popularity,omitempty"`
}

// GenreDTO is a taxonomy entry
type GenreDTO struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// GenresResponse is the envelope for /genre/{kind}/list
type GenresResponse struct {
	Genres []GenreDTO `json:"genres"`
}

// MovieDetails is the payload for /movie/{id}
type MovieDetails struct {
	ID            int        `json:"id"`
	Title         string     `json:"title"`
	OriginalTitle string     `json:"original_title"`
	Overview      string     `json:"overview"`
	PosterPath    string     `json:"poster_path"`
	BackdropPath  string     `json:"backdrop_path"`
	ReleaseDate   string     `json:"release_date"`
	VoteAverage   float64    `json:"vote_average"`
	VoteCount     int        `json:"vote_count"`
	Runtime       *int       `json:"runtime"`
	Genres        []GenreDTO `json:"genres"`
	Tagline       string     `json:"tagline"`
	Status        string     `json:"status"`
	IMDbID        string     `json:"imdb_id"`
}

// TVDetails is the payload for /tv/{id}
type TVDetails struct {
	ID               int        `json:"id"`
	Name             string     `json:"name"`
	OriginalName     string     `json:"original_name"`
	Overview         string     `json:"overview"`
	PosterPath       string     `json:"poster_path"`
	BackdropPath     string     `json:"backdrop_path"`
	FirstAirDate     string     `json:"first_air_date"`
	LastAirDate      string     `json:"last_air_date"`
	VoteAverage      float64    `json:"vote_average"`
	VoteCount        int        `json:"vote_count"`
	NumberOfSeasons  int        `json:"number_of_seasons"`
	NumberOfEpisodes int        `json:"number_of_episodes"`
	EpisodeRunTime   []int      `json:"episode_run_time"`
	Genres           []GenreDTO `json:"genres"`
	Tagline          string     `json:"tagline"`
	Status           string     `json:"status"`
}

// WatchProvidersResponse is the payload for /{kind}/{id}/watch/providers
type WatchProvidersResponse struct {
	ID      int                              `json:"id"`
	Results map[string]CountryWatchProviders `json:"results"`
}

// CountryWatchProviders groups providers for one country code
type CountryWatchProviders struct {
	Link     string             `json:"link"`
	Flatrate []WatchProviderDTO `json:"flatrate"`
	Rent     []WatchProviderDTO `json:"rent"`
	Buy      []WatchProviderDTO `json:"buy"`
	Free     []WatchProviderDTO `json:"free"`
}

// WatchProviderDTO is one provider entry
type WatchProviderDTO struct {
	LogoPath        string `json:"logo_path"`
	ProviderID      int    `json:"provider_id"`
	ProviderName    string `json:"provider_name"`
	DisplayPriority int    `json:"display_priority"`
}

// errorResponse is the body TMDB sends with non-2xx statuses
type errorResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}
