package liststore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mmcdole/tagline/internal/domain"
)

const (
	DefaultKeyPrefix = "tagline"
	opTimeout        = 3 * time.Second
)

// Redis stores each user's list as a hash of JSON documents and pushes
// change notifications over pub/sub.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// DialRedis connects to addr and verifies the server answers
func DialRedis(addr, password, prefix string, logger *slog.Logger) (*Redis, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w: %w", domain.ErrNetwork, err)
	}
	return NewRedis(client, prefix, logger), nil
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix, logger: logger}
}

// Close releases the underlying connection pool
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) docsKey(userID string) string {
	return r.prefix + ":users:" + userID + ":saved"
}

func (r *Redis) indexKey(userID string) string {
	return r.docsKey(userID) + ":keys"
}

func (r *Redis) channel(userID string) string {
	return r.docsKey(userID) + ":changes"
}

func indexField(doc domain.ListDocument) string {
	return domain.SavedKey(doc.SourceID, doc.Kind)
}

func networkErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrNetwork, err)
}

// Add stores doc under a fresh id
func (r *Redis) Add(ctx context.Context, userID string, doc domain.ListDocument) (string, error) {
	doc.ID = uuid.NewString()
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w: %v", domain.ErrMalformedResponse, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.docsKey(userID), doc.ID, raw)
		pipe.HSet(ctx, r.indexKey(userID), indexField(doc), doc.ID)
		return nil
	})
	if err != nil {
		return "", networkErr("add document", err)
	}

	r.publish(ctx, userID, doc.ID)
	return doc.ID, nil
}

// AddIfAbsent claims the (sourceID, kind) slot before writing.
// Returns domain.ErrConflict when another document already holds it.
func (r *Redis) AddIfAbsent(ctx context.Context, userID string, doc domain.ListDocument) (string, error) {
	doc.ID = uuid.NewString()
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w: %v", domain.ErrMalformedResponse, err)
	}

	claimed, err := r.client.HSetNX(ctx, r.indexKey(userID), indexField(doc), doc.ID).Result()
	if err != nil {
		return "", networkErr("claim key", err)
	}
	if !claimed {
		return "", fmt.Errorf("%s: %w", indexField(doc), domain.ErrConflict)
	}

	if err := r.client.HSet(ctx, r.docsKey(userID), doc.ID, raw).Err(); err != nil {
		// Give the slot back so a retry is not reported as a conflict
		r.client.HDel(context.Background(), r.indexKey(userID), indexField(doc))
		return "", networkErr("add document", err)
	}

	r.publish(ctx, userID, doc.ID)
	return doc.ID, nil
}

// Update replaces the stored document with the same id
func (r *Redis) Update(ctx context.Context, userID string, doc domain.ListDocument) error {
	old, err := r.Get(ctx, userID, doc.ID)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w: %v", domain.ErrMalformedResponse, err)
	}

	oldField, newField := indexField(*old), indexField(doc)
	var owner string
	if oldField != newField {
		owner, err = r.client.HGet(ctx, r.indexKey(userID), oldField).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return networkErr("read key index", err)
		}
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.docsKey(userID), doc.ID, raw)
		if oldField != newField {
			if owner == doc.ID {
				pipe.HDel(ctx, r.indexKey(userID), oldField)
			}
			pipe.HSetNX(ctx, r.indexKey(userID), newField, doc.ID)
		}
		return nil
	})
	if err != nil {
		return networkErr("update document", err)
	}

	r.publish(ctx, userID, doc.ID)
	return nil
}

// Delete removes a document. Deleting a missing id is not an error.
func (r *Redis) Delete(ctx context.Context, userID string, docID string) error {
	doc, err := r.Get(ctx, userID, docID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case errors.Is(err, domain.ErrMalformedResponse):
		doc = nil
	case err != nil:
		return err
	}

	if err := r.client.HDel(ctx, r.docsKey(userID), docID).Err(); err != nil {
		return networkErr("delete document", err)
	}

	// A malformed envelope has no usable key; the index is left alone
	if doc != nil {
		if err := r.reindex(ctx, userID, *doc); err != nil {
			return err
		}
	}

	r.publish(ctx, userID, docID)
	return nil
}

// reindex points the key slot of a deleted document at a surviving duplicate, if any
func (r *Redis) reindex(ctx context.Context, userID string, deleted domain.ListDocument) error {
	field := indexField(deleted)
	owner, err := r.client.HGet(ctx, r.indexKey(userID), field).Result()
	if errors.Is(err, redis.Nil) || (err == nil && owner != deleted.ID) {
		return nil
	}
	if err != nil {
		return networkErr("read key index", err)
	}

	sourceID, kind := deleted.SourceID, deleted.Kind
	rest, err := r.Query(ctx, userID, domain.ListQuery{SourceID: &sourceID, Kind: &kind})
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		if err := r.client.HDel(ctx, r.indexKey(userID), field).Err(); err != nil {
			return networkErr("clear key index", err)
		}
		return nil
	}
	// Oldest survivor keeps the slot
	survivor := rest[len(rest)-1]
	if err := r.client.HSet(ctx, r.indexKey(userID), field, survivor.ID).Err(); err != nil {
		return networkErr("update key index", err)
	}
	return nil
}

// Get returns one document. A stored value that is not a valid envelope
// is returned with an empty body alongside ErrMalformedResponse.
func (r *Redis) Get(ctx context.Context, userID string, docID string) (*domain.ListDocument, error) {
	raw, err := r.client.HGet(ctx, r.docsKey(userID), docID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("document %s: %w", docID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, networkErr("get document", err)
	}

	doc, ok := decodeEnvelope(docID, raw)
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, domain.ErrMalformedResponse)
	}
	return &doc, nil
}

// Query returns every document matching q in snapshot order
func (r *Redis) Query(ctx context.Context, userID string, q domain.ListQuery) ([]domain.ListDocument, error) {
	all, err := r.client.HGetAll(ctx, r.docsKey(userID)).Result()
	if err != nil {
		return nil, networkErr("read documents", err)
	}

	docs := make([]domain.ListDocument, 0, len(all))
	for id, raw := range all {
		doc, ok := decodeEnvelope(id, raw)
		if !ok {
			r.logger.Warn("undecodable list document", "id", id, "user", userID)
			// Passed through with a nil body so readers skip it
			docs = append(docs, domain.ListDocument{ID: id})
			continue
		}
		docs = append(docs, doc)
	}
	return filterDocuments(docs, q), nil
}

// Subscribe pushes a fresh snapshot after every change notification
func (r *Redis) Subscribe(ctx context.Context, userID string, q domain.ListQuery) (domain.ListSubscription, error) {
	ps := r.client.Subscribe(ctx, r.channel(userID))
	// Wait for the subscribe confirmation so no change between here and the
	// initial read is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, networkErr("subscribe", err)
	}

	docs, err := r.Query(ctx, userID, q)
	if err != nil {
		ps.Close()
		return nil, err
	}

	sub := newSubscription(ps.Close)
	sub.deliver(docs)
	sub.closeOnCancel(ctx)

	go r.watch(ps, sub, userID, q)

	r.logger.Debug("list subscription opened", "user", userID)
	return sub, nil
}

func (r *Redis) watch(ps *redis.PubSub, sub *subscription, userID string, q domain.ListQuery) {
	for range ps.Channel() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		docs, err := r.Query(ctx, userID, q)
		cancel()
		if err != nil {
			r.logger.Error("list snapshot refresh failed", "user", userID, "error", err)
			sub.fail(err)
			return
		}
		if !sub.deliver(docs) {
			return
		}
	}
	r.logger.Debug("list subscription closed", "user", userID)
}

func (r *Redis) publish(ctx context.Context, userID, docID string) {
	if err := r.client.Publish(ctx, r.channel(userID), docID).Err(); err != nil {
		// The write already landed; subscribers catch up on the next change
		r.logger.Warn("publish list change failed", "user", userID, "error", err)
	}
}

func decodeEnvelope(id, raw string) (domain.ListDocument, bool) {
	var doc domain.ListDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return domain.ListDocument{}, false
	}
	doc.ID = id
	return doc, true
}
