package storage

import "time"

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory uses in-process storage. Suitable only where one process
	// instance serves all traffic.
	TypeMemory Type = "memory"

	// TypeRedis uses a shared Redis-compatible backend, required for
	// multi-instance deployments.
	TypeRedis Type = "redis"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Username and Password are optional ACL credentials.
	Username string
	Password string

	// DB is the logical database number.
	DB int

	// KeyPrefix namespaces all keys, e.g. "mcp:auth:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Config configures the storage backend.
type Config struct {
	// Type specifies the storage backend type. Defaults to memory.
	Type Type

	// Redis configures the shared backend. Required when Type is redis.
	Redis *RedisConfig

	// CleanupInterval overrides the in-memory janitor interval.
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Type: TypeMemory,
	}
}
