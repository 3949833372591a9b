package domain

import (
	"context"
	"encoding/json"
	"time"
)

// MetadataClient fetches catalog data from the third-party metadata API.
// Errors wrap ErrNetwork, ErrRateLimited, ErrNotFound, ErrMalformedResponse or ErrUnauthenticated.
type MetadataClient interface {
	// FetchDetails returns full metadata for a movie or TV series
	FetchDetails(ctx context.Context, id int, kind MediaKind) (*Detail, error)

	// SearchByText returns one page of movie and TV matches (people are dropped)
	SearchByText(ctx context.Context, text string, page int) (*SearchPage, error)

	// FetchGenres returns the genre list for one kind
	FetchGenres(ctx context.Context, kind MediaKind) ([]Genre, error)

	// FetchWatchProviders returns streaming availability for one country.
	// Returns ErrNotFound when the country has no entry.
	FetchWatchProviders(ctx context.Context, id int, kind MediaKind, country string) (*WatchProviders, error)
}

// ListDocument is one stored saved-item document.
// SourceID, Kind and AddedAt are indexed by the store; Body is opaque to it.
type ListDocument struct {
	ID       string          `json:"id"`
	SourceID int             `json:"tmdbId"`
	Kind     MediaKind       `json:"type"`
	AddedAt  time.Time       `json:"addedAt"`
	Body     json.RawMessage `json:"body"`
}

// ListQuery narrows a list read or subscription. Nil fields match everything.
type ListQuery struct {
	Kind     *MediaKind
	SourceID *int
}

// Matches reports whether doc satisfies the query
func (q ListQuery) Matches(doc ListDocument) bool {
	if q.Kind != nil && doc.Kind != *q.Kind {
		return false
	}
	if q.SourceID != nil && doc.SourceID != *q.SourceID {
		return false
	}
	return true
}

// ListSubscription is a live push registration. Close must be called to release it.
type ListSubscription interface {
	// Updates delivers full snapshots ordered by AddedAt descending.
	// The channel is closed after Close or when the store drops the subscription.
	Updates() <-chan []ListDocument

	// Err returns the error that ended the subscription, if any
	Err() error

	Close() error
}

// ListStore is the remote real-time document store holding each user's saved list.
type ListStore interface {
	Subscribe(ctx context.Context, userID string, q ListQuery) (ListSubscription, error)
	Add(ctx context.Context, userID string, doc ListDocument) (string, error)
	Update(ctx context.Context, userID string, doc ListDocument) error
	Delete(ctx context.Context, userID string, docID string) error
	Get(ctx context.Context, userID string, docID string) (*ListDocument, error)
	Query(ctx context.Context, userID string, q ListQuery) ([]ListDocument, error)
}

// ConditionalAdder is implemented by stores that can atomically refuse a second
// document for the same (SourceID, Kind). It returns ErrConflict in that case.
type ConditionalAdder interface {
	AddIfAbsent(ctx context.Context, userID string, doc ListDocument) (string, error)
}
