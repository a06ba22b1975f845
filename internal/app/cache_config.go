package app

import (
	"strings"

	"github.com/finbase/revrec/internal/cache"
)

// RedisClientConfig maps the loaded cache settings onto cache.RedisConfig.
// An empty address means Redis is disabled and callers fall back to the
// database-backed store.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}
