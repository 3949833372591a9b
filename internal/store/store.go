package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/mmcdole/tagline/internal/domain"
	"github.com/patrickmn/go-cache"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketDetails = []byte("details")
	bucketGenres  = []byte("genres")
	bucketHistory = []byte("history")

	allBuckets = [][]byte{bucketDetails, bucketGenres, bucketHistory}
)

const dbFileName = "tagline.db"

// Store implements domain.LocalStore using BoltDB.
type Store struct {
	db *bolt.DB

	// In-memory cache for hot-path keyed reads (promoted on access).
	// Scans always go to BoltDB.
	hot *cache.Cache

	// Set in memory-only mode; removed on Close
	tempDir string
}

var _ domain.LocalStore = (*Store)(nil)

// NewStore opens (or creates) the cache database under dir.
// An empty dir gives a throwaway database that is deleted on Close.
func NewStore(dir string) (*Store, error) {
	tempDir := ""
	if dir == "" {
		tmp, err := os.MkdirTemp("", "tagline-cache-")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp cache dir: %w", err)
		}
		dir, tempDir = tmp, tmp
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, dbFileName)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:      db,
		hot:     cache.New(cache.NoExpiration, 0),
		tempDir: tempDir,
	}, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) Close() error {
	err := s.db.Close()
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
	return err
}

// === Generic helpers ===

func hotKey(bucket []byte, key string) string {
	return string(bucket) + ":" + key
}

func (s *Store) get(bucket []byte, key string, dest interface{}) bool {
	cacheKey := hotKey(bucket, key)

	if v, ok := s.hot.Get(cacheKey); ok {
		return json.Unmarshal(v.([]byte), dest) == nil
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if data == nil {
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false
	}
	s.hot.SetDefault(cacheKey, data)
	return true
}

func (s *Store) set(bucket []byte, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
	if err != nil {
		s.hot.Delete(hotKey(bucket, key))
		return err
	}
	s.hot.SetDefault(hotKey(bucket, key), data)
	return nil
}

func (s *Store) delete(bucket []byte, key string) error {
	s.hot.Delete(hotKey(bucket, key))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// deleteWhere removes every entry for which match returns true and reports how many.
// Keys are collected first; deleting under a live cursor skips entries.
func (s *Store) deleteWhere(bucket []byte, match func(k, v []byte) bool) (int, error) {
	var deleted [][]byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		err := b.ForEach(func(k, v []byte) error {
			if match(k, v) {
				deleted = append(deleted, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range deleted {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range deleted {
		s.hot.Delete(hotKey(bucket, string(k)))
	}
	return len(deleted), nil
}

func (s *Store) count(bucket []byte) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucket).Stats().KeyN
		return nil
	})
	return n, err
}

func matchAll([]byte, []byte) bool { return true }

// === Details (key: {kind}:{id}) ===

func (s *Store) GetDetail(id int, kind domain.MediaKind) (*domain.CachedDetail, bool) {
	var d domain.CachedDetail
	if !s.get(bucketDetails, domain.DetailKey(id, kind), &d) {
		return nil, false
	}
	return &d, true
}

func (s *Store) PutDetail(d *domain.CachedDetail) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return s.set(bucketDetails, d.Key(), d)
}

func (s *Store) DeleteDetail(id int, kind domain.MediaKind) error {
	return s.delete(bucketDetails, domain.DetailKey(id, kind))
}

// DeleteDetailsBefore removes entries cached before threshold.
// Undecodable entries are removed as well.
func (s *Store) DeleteDetailsBefore(threshold time.Time) (int, error) {
	cutoff := threshold.UnixMilli()
	return s.deleteWhere(bucketDetails, func(_, v []byte) bool {
		var d domain.CachedDetail
		if err := json.Unmarshal(v, &d); err != nil {
			return true
		}
		return d.CachedAt < cutoff
	})
}

func (s *Store) DeleteAllDetails() error {
	_, err := s.deleteWhere(bucketDetails, matchAll)
	return err
}

func (s *Store) CountDetails() (int, error) {
	return s.count(bucketDetails)
}

// === Genres (key: id) ===

// PutGenres inserts or replaces genres by id in one transaction
func (s *Store) PutGenres(genres []domain.CachedGenre) error {
	encoded := make(map[string][]byte, len(genres))
	for _, g := range genres {
		data, err := json.Marshal(g)
		if err != nil {
			return err
		}
		encoded[strconv.Itoa(g.ID)] = data
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGenres)
		for k, v := range encoded {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for k, v := range encoded {
		s.hot.SetDefault(hotKey(bucketGenres, k), v)
	}
	return nil
}

// AllGenres returns every stored genre ordered by id
func (s *Store) AllGenres() ([]domain.CachedGenre, error) {
	var genres []domain.CachedGenre
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGenres).ForEach(func(_, v []byte) error {
			var g domain.CachedGenre
			if err := json.Unmarshal(v, &g); err != nil {
				return nil // Skip corrupt rows
			}
			genres = append(genres, g)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(genres, func(i, j int) bool { return genres[i].ID < genres[j].ID })
	return genres, nil
}

func (s *Store) GenresByKind(kind domain.MediaKind) ([]domain.CachedGenre, error) {
	all, err := s.AllGenres()
	if err != nil {
		return nil, err
	}
	filtered := make([]domain.CachedGenre, 0, len(all))
	for _, g := range all {
		if g.Kind == kind {
			filtered = append(filtered, g)
		}
	}
	return filtered, nil
}

// GenreNames resolves ids to names in the order given. Unknown ids are omitted.
func (s *Store) GenreNames(ids []int) ([]string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		var g domain.CachedGenre
		if s.get(bucketGenres, strconv.Itoa(id), &g) {
			names = append(names, g.Name)
		}
	}
	return names, nil
}

func (s *Store) CountGenres() (int, error) {
	return s.count(bucketGenres)
}

func (s *Store) DeleteAllGenres() error {
	_, err := s.deleteWhere(bucketGenres, matchAll)
	return err
}

// === Search history (key: big-endian sequence id) ===

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeEntry(v []byte) (domain.SearchHistoryEntry, bool) {
	var e domain.SearchHistoryEntry
	if err := json.Unmarshal(v, &e); err != nil {
		return e, false
	}
	return e, true
}

// TouchQuery sets the timestamp on rows whose text equals query exactly.
// Returns the number of rows updated.
func (s *Store) TouchQuery(query string, at time.Time) (int, error) {
	updated := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		type row struct {
			key  []byte
			data []byte
		}
		var rows []row
		err := b.ForEach(func(k, v []byte) error {
			e, ok := decodeEntry(v)
			if !ok || e.Query != query {
				return nil
			}
			e.LastSearchedAt = at.UnixMilli()
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			rows = append(rows, row{key: append([]byte(nil), k...), data: data})
			return nil
		})
		if err != nil {
			return err
		}
		for _, r := range rows {
			if err := b.Put(r.key, r.data); err != nil {
				return err
			}
		}
		updated = len(rows)
		return nil
	})
	return updated, err
}

// InsertQuery appends a new row with the next sequence id
func (s *Store) InsertQuery(query string, at time.Time) (domain.SearchHistoryEntry, error) {
	var entry domain.SearchHistoryEntry
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry = domain.SearchHistoryEntry{ID: id, Query: query, LastSearchedAt: at.UnixMilli()}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
	return entry, err
}

func sortRecent(entries []domain.SearchHistoryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastSearchedAt != entries[j].LastSearchedAt {
			return entries[i].LastSearchedAt > entries[j].LastSearchedAt
		}
		return entries[i].ID > entries[j].ID
	})
}

func allEntries(b *bolt.Bucket) []domain.SearchHistoryEntry {
	var entries []domain.SearchHistoryEntry
	b.ForEach(func(_, v []byte) error {
		if e, ok := decodeEntry(v); ok {
			entries = append(entries, e)
		}
		return nil
	})
	return entries
}

// RecentQueries returns up to limit rows, most recent first. limit <= 0 returns all.
func (s *Store) RecentQueries(limit int) ([]domain.SearchHistoryEntry, error) {
	var entries []domain.SearchHistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		entries = allEntries(tx.Bucket(bucketHistory))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecent(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// TrimQueries keeps the keep most recent rows and deletes the rest
func (s *Store) TrimQueries(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		entries := allEntries(b)
		if len(entries) <= keep {
			return nil
		}
		sortRecent(entries)
		for _, e := range entries[keep:] {
			if err := b.Delete(itob(e.ID)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func (s *Store) DeleteQuery(query string) error {
	_, err := s.deleteWhere(bucketHistory, func(_, v []byte) bool {
		e, ok := decodeEntry(v)
		return ok && e.Query == query
	})
	return err
}

func (s *Store) DeleteQueryByID(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).Delete(itob(id))
	})
}

// DeleteAllQueries empties the history but keeps the id sequence
func (s *Store) DeleteAllQueries() error {
	_, err := s.deleteWhere(bucketHistory, matchAll)
	return err
}

func (s *Store) CountQueries() (int, error) {
	return s.count(bucketHistory)
}

// InvalidateAll wipes every bucket
func (s *Store) InvalidateAll() error {
	s.hot.Flush()
	for _, bucket := range allBuckets {
		if _, err := s.deleteWhere(bucket, matchAll); err != nil {
			return err
		}
	}
	return nil
}
