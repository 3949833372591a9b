package domain

import "time"

// LocalStore is the durable on-device cache (BoltDB + memory).
// Each call is atomic on its own; sequences of calls are not transactional.
type LocalStore interface {
	// === Details (key: kind:id) ===
	GetDetail(id int, kind MediaKind) (*CachedDetail, bool)
	PutDetail(d *CachedDetail) error
	DeleteDetail(id int, kind MediaKind) error
	DeleteDetailsBefore(threshold time.Time) (int, error)
	DeleteAllDetails() error
	CountDetails() (int, error)

	// === Genres (key: id) ===
	PutGenres(genres []CachedGenre) error
	AllGenres() ([]CachedGenre, error)
	GenresByKind(kind MediaKind) ([]CachedGenre, error)
	GenreNames(ids []int) ([]string, error)
	CountGenres() (int, error)
	DeleteAllGenres() error

	// === Search history (key: sequence id) ===
	TouchQuery(query string, at time.Time) (int, error)
	InsertQuery(query string, at time.Time) (SearchHistoryEntry, error)
	RecentQueries(limit int) ([]SearchHistoryEntry, error)
	TrimQueries(keep int) (int, error)
	DeleteQuery(query string) error
	DeleteQueryByID(id uint64) error
	DeleteAllQueries() error
	CountQueries() (int, error)

	InvalidateAll() error
	Close() error
}
