package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VariantCache holds rendered image variants. Pictures never change once
// stored, so entries only expire through their TTL.
type VariantCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Config selects and configures a cache backend.
type Config struct {
	Type     string        `yaml:"type"` // none or redis
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

func NewVariantCache(ctx context.Context, config Config) (VariantCache, error) {
	switch config.Type {
	case "", "none":
		return NoopCache{}, nil
	case "redis":
		return NewRedisCache(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
}

// VariantKey builds the cache key of a rendered variant. Absent dimensions are
// written as "auto".
func VariantKey(date, variant string, width, height *int) string {
	dimension := func(v *int) string {
		if v == nil {
			return "auto"
		}
		return strconv.Itoa(*v)
	}
	return strings.Join([]string{date, variant, dimension(width), dimension(height)}, ":")
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NoopCache) Set(context.Context, string, []byte) error         { return nil }
func (NoopCache) Close() error                                      { return nil }
