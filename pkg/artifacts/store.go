package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound marks a key absent from the store
var ErrNotFound = errors.New("artifact not found")

// ErrChecksumMismatch marks a payload whose SHA-256 does not match its
// metadata record. The stale snapshot stays in service.
var ErrChecksumMismatch = errors.New("artifact checksum mismatch")

// Meta is the integrity record stored at "<key>:meta"
type Meta struct {
	Version   string    `json:"version,omitempty"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the Redis-backed artifact KV. All values are JSON blobs written
// by offline training and admin tooling; the service only reads them, except
// for seeding via Put.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore wraps a Redis client. An empty prefix stores keys as-is.
func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Ping verifies connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get fetches one raw artifact payload
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return payload, nil
}

// Meta fetches the integrity record for a key, nil when none was written
func (s *Store) Meta(ctx context.Context, key string) (*Meta, error) {
	raw, err := s.client.Get(ctx, s.key(key)+":meta").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s:meta: %w", key, err)
	}

	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode %s:meta: %w", key, err)
	}
	return &meta, nil
}

// GetVerified fetches a payload and validates it against its metadata
// checksum when one exists.
func (s *Store) GetVerified(ctx context.Context, key string) ([]byte, *Meta, error) {
	payload, err := s.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	meta, err := s.Meta(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if meta != nil && meta.Checksum != "" && meta.Checksum != Checksum(payload) {
		return nil, meta, fmt.Errorf("%w: %s", ErrChecksumMismatch, key)
	}
	return payload, meta, nil
}

// Put writes a payload and its metadata record atomically
func (s *Store) Put(ctx context.Context, key string, payload []byte, version string) error {
	meta, err := json.Marshal(Meta{
		Version:   version,
		Checksum:  Checksum(payload),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(key), payload, 0)
	pipe.Set(ctx, s.key(key)+":meta", meta, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes a payload and its metadata record
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key), s.key(key)+":meta").Err()
}

// Entry describes one stored artifact for listings
type Entry struct {
	Key      string
	Size     int64
	Meta     *Meta
	Checksum string
}

// List reports the state of every known artifact key. Absent keys are
// skipped.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	for _, key := range AllKeys {
		payload, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		meta, err := s.Meta(ctx, key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Key:      key,
			Size:     int64(len(payload)),
			Meta:     meta,
			Checksum: Checksum(payload),
		})
	}
	return entries, nil
}

// Checksum returns the hex SHA-256 of a payload
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
