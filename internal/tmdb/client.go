package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/mmcdole/tagline/internal/domain"
)

const (
	DefaultBaseURL  = "https://api.themoviedb.org/3"
	ImageBaseURL    = "https://image.tmdb.org/t/p/"
	defaultTimeout  = 15 * time.Second
	defaultLanguage = "pt-PT"
	userAgent       = "Tagline/1.0"

	PosterSizeSmall    = "w185"
	PosterSizeMedium   = "w342"
	PosterSizeLarge    = "w500"
	PosterSizeOriginal = "original"
	BackdropSize       = "w780"
	ProviderLogoSize   = "w92"
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	APIKey            string
	BaseURL           string
	Language          string
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables client-side rate limiting
}

// Client implements domain.MetadataClient for the TMDB v3 API
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a new TMDB API client
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Language == "" {
		opts.Language = defaultLanguage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent).
		SetQueryParam("api_key", opts.APIKey).
		SetQueryParam("language", opts.Language)

	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		rc.SetRateLimiter(rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst))
	}

	return &Client{http: rc, logger: logger}
}

// get performs a GET and decodes a 200 body into dest, classifying every failure
func (c *Client) get(ctx context.Context, path string, params map[string]string, dest interface{}) error {
	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}

	c.logger.Debug("tmdb request", "path", path)

	resp, err := req.Get(path)
	if err != nil {
		if errors.Is(err, resty.ErrRateLimitExceeded) {
			return fmt.Errorf("%s: %w", path, domain.ErrRateLimited)
		}
		c.logger.Warn("tmdb request failed", "path", path, "error", err)
		return fmt.Errorf("%s: %w: %w", path, domain.ErrNetwork, err)
	}

	if err := classifyStatus(resp.StatusCode(), resp.Body()); err != nil {
		c.logger.Warn("tmdb request error", "path", path, "status", resp.StatusCode())
		return fmt.Errorf("%s: %w", path, err)
	}

	if err := json.Unmarshal(resp.Body(), dest); err != nil {
		c.logger.Error("tmdb decode error", "path", path, "error", err, "bodyLen", len(resp.Body()))
		return fmt.Errorf("%s: %w: %v", path, domain.ErrMalformedResponse, err)
	}
	return nil
}

// classifyStatus maps HTTP statuses onto domain errors
func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := http.StatusText(status)
	var apiErr errorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.StatusMessage != "" {
		msg = apiErr.StatusMessage
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrUnauthenticated, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case status >= 500, status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: status %d: %s", domain.ErrNetwork, status, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrMalformedResponse, status, msg)
	}
}

// FetchDetails returns full metadata for a movie or TV series
func (c *Client) FetchDetails(ctx context.Context, id int, kind domain.MediaKind) (*domain.Detail, error) {
	path := "/" + kind.String() + "/" + strconv.Itoa(id)

	if kind == domain.MediaKindTV {
		var tv TVDetails
		if err := c.get(ctx, path, nil, &tv); err != nil {
			return nil, err
		}
		return MapTV(&tv), nil
	}

	var movie MovieDetails
	if err := c.get(ctx, path, nil, &movie); err != nil {
		return nil, err
	}
	return MapMovie(&movie), nil
}

// SearchByText runs a multi search. People are filtered out.
func (c *Client) SearchByText(ctx context.Context, text string, page int) (*domain.SearchPage, error) {
	if page < 1 {
		page = 1
	}
	var resp SearchResponse
	params := map[string]string{"query": text, "page": strconv.Itoa(page)}
	if err := c.get(ctx, "/search/multi", params, &resp); err != nil {
		return nil, err
	}
	return MapSearchPage(&resp), nil
}

// FetchGenres returns the genre list for one kind
func (c *Client) FetchGenres(ctx context.Context, kind domain.MediaKind) ([]domain.Genre, error) {
	var resp GenresResponse
	if err := c.get(ctx, "/genre/"+kind.String()+"/list", nil, &resp); err != nil {
		return nil, err
	}
	return mapGenres(resp.Genres), nil
}

// FetchWatchProviders returns availability for a country code (e.g. "PT")
func (c *Client) FetchWatchProviders(ctx context.Context, id int, kind domain.MediaKind, country string) (*domain.WatchProviders, error) {
	var resp WatchProvidersResponse
	path := "/" + kind.String() + "/" + strconv.Itoa(id) + "/watch/providers"
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	country = strings.ToUpper(country)
	entry, ok := resp.Results[country]
	if !ok {
		return nil, fmt.Errorf("watch providers for %s: %w", country, domain.ErrNotFound)
	}
	return MapWatchProviders(country, entry), nil
}

// PosterURL builds a full image URL; empty path yields ""
func PosterURL(path, size string) string {
	if path == "" {
		return ""
	}
	if size == "" {
		size = PosterSizeMedium
	}
	return ImageBaseURL + size + path
}

// BackdropURL builds a full backdrop image URL
func BackdropURL(path string) string {
	return PosterURL(path, BackdropSize)
}

// ProviderLogoURL builds a full provider logo URL
func ProviderLogoURL(path string) string {
	return PosterURL(path, ProviderLogoSize)
}
