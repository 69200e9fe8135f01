package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/evees"
)

// RedisRemote keeps objects, details, owners and context indexes in Redis.
type RedisRemote struct {
	*Base
	client *redis.Client
}

// NewRedisRemote connects to redisURL and returns a remote over it.
func NewRedisRemote(id, userID, redisURL string, cfg cas.CidConfig) (*RedisRemote, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisRemoteWithClient(id, userID, client, cfg), nil
}

// NewRedisRemoteWithClient creates a remote from an existing Redis client.
func NewRedisRemoteWithClient(id, userID string, client *redis.Client, cfg cas.CidConfig) *RedisRemote {
	store := NewRedisStore(client, cfg)
	data := redisBackend{client: client, prefix: "evees:" + id + ":"}
	return &RedisRemote{Base: newBase(id, userID, store, data), client: client}
}

// Close closes the Redis connection.
func (r *RedisRemote) Close() error { return r.client.Close() }

// RedisStore implements cas.ContentStore with one string key per object.
type RedisStore struct {
	client *redis.Client
	prefix string
	cfg    cas.CidConfig
}

// NewRedisStore creates a content store over client.
func NewRedisStore(client *redis.Client, cfg cas.CidConfig) *RedisStore {
	return &RedisStore{client: client, prefix: "evees:obj:", cfg: cfg}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Ready(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) Config() cas.CidConfig { return s.cfg }

// Create stores object unless an object with the same id exists.
func (s *RedisStore) Create(ctx context.Context, object any) (string, error) {
	data, err := cas.CanonicalJSON(object)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	id, err := cas.HashBytes(data, s.cfg)
	if err != nil {
		return "", err
	}

	created, err := s.client.SetNX(ctx, s.key(id), data, 0).Result()
	if err != nil {
		return "", fmt.Errorf("store object %s: %w", id, err)
	}
	if created {
		return id, nil
	}

	existing, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", id, err)
	}
	if !bytes.Equal(existing, data) {
		return "", fmt.Errorf("object %s: stored content differs: %w", id, cas.ErrIdentityMismatch)
	}
	return id, nil
}

// Get returns the canonical bytes of id.
func (s *RedisStore) Get(ctx context.Context, id string) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("object %s: %w", id, cas.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", id, err)
	}
	return data, nil
}

// redisBackend stores details as hashes, owners as strings and contexts as sets.
type redisBackend struct {
	client *redis.Client
	prefix string
}

const (
	fieldRegistered = "registered"
	fieldHead       = "headId"
	fieldContext    = "context"
	fieldName       = "name"
)

func (b redisBackend) detailsKey(id string) string { return b.prefix + "details:" + id }
func (b redisBackend) ownerKey(id string) string   { return b.prefix + "owner:" + id }
func (b redisBackend) contextKey(tag string) string {
	return b.prefix + "ctx:" + tag
}

func (b redisBackend) ping(ctx context.Context) error { return b.client.Ping(ctx).Err() }

func (b redisBackend) getDetails(ctx context.Context, id string) (evees.PerspectiveDetails, error) {
	fields, err := b.client.HGetAll(ctx, b.detailsKey(id)).Result()
	if err != nil {
		return evees.PerspectiveDetails{}, fmt.Errorf("details %s: %w", id, err)
	}
	if len(fields) == 0 {
		return evees.PerspectiveDetails{}, errNoEntry
	}
	var d evees.PerspectiveDetails
	if v, ok := fields[fieldHead]; ok {
		d.HeadID = evees.Str(v)
	}
	if v, ok := fields[fieldContext]; ok {
		d.Context = evees.Str(v)
	}
	if v, ok := fields[fieldName]; ok {
		d.Name = evees.Str(v)
	}
	return d, nil
}

func (b redisBackend) putDetails(ctx context.Context, id string, d evees.PerspectiveDetails) error {
	values := []any{fieldRegistered, "1"}
	if d.HeadID != nil {
		values = append(values, fieldHead, *d.HeadID)
	}
	if d.Context != nil {
		values = append(values, fieldContext, *d.Context)
	}
	if d.Name != nil {
		values = append(values, fieldName, *d.Name)
	}

	key := b.detailsKey(id)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put details %s: %w", id, err)
	}
	return nil
}

func (b redisBackend) getOwner(ctx context.Context, id string) (string, error) {
	owner, err := b.client.Get(ctx, b.ownerKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", errNoEntry
	}
	return owner, err
}

func (b redisBackend) setOwner(ctx context.Context, id, owner string) error {
	return b.client.Set(ctx, b.ownerKey(id), owner, 0).Err()
}

func (b redisBackend) addToContext(ctx context.Context, tag, id string) error {
	return b.client.SAdd(ctx, b.contextKey(tag), id).Err()
}

func (b redisBackend) removeFromContext(ctx context.Context, tag, id string) error {
	return b.client.SRem(ctx, b.contextKey(tag), id).Err()
}

func (b redisBackend) contextMembers(ctx context.Context, tag string) ([]string, error) {
	ids, err := b.client.SMembers(ctx, b.contextKey(tag)).Result()
	if err != nil {
		return nil, fmt.Errorf("context %s: %w", tag, err)
	}
	sort.Strings(ids)
	return ids, nil
}
