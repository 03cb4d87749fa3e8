// Package store remembers each participant's most recent successfully run
// snippet.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Load when nothing is stored for a participant.
var ErrNotFound = errors.New("store: no recent code")

// Document is the stored snippet for one participant.
type Document struct {
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is a key-value document store keyed by participant id.
type Store interface {
	Save(ctx context.Context, uid string, doc Document) error
	Load(ctx context.Context, uid string) (Document, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver    string // bolt, redis or none
	Path      string
	RedisAddr string
	RedisDB   int
}

// Open returns the configured store. Driver "none" yields a nil Store and
// no error.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "bolt":
		return OpenBolt(cfg.Path)
	case "redis":
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func validUID(uid string) error {
	if uid == "" {
		return errors.New("store: empty participant id")
	}
	return nil
}
