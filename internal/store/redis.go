package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "codecollab:recent:"

// Redis stores documents as JSON strings under codecollab:recent:<uid>.
type Redis struct {
	rdb *redis.Client
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedis(rdb), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Save(ctx context.Context, uid string, doc Document) error {
	if err := validUID(uid); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := r.rdb.Set(ctx, redisKeyPrefix+uid, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, uid string) (Document, error) {
	var doc Document
	if err := validUID(uid); err != nil {
		return doc, err
	}
	raw, err := r.rdb.Get(ctx, redisKeyPrefix+uid).Bytes()
	if errors.Is(err, redis.Nil) {
		return doc, ErrNotFound
	}
	if err != nil {
		return doc, fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
