package bridge

// RedisConfig holds connection settings for the Redis pub/sub bridge.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED"   envDefault:"false"`
	Addr     string `env:"REDIS_ADDR"      envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"        envDefault:"0"`
	Prefix   string `env:"REDIS_WS_PREFIX" envDefault:"chatrelay:ws:"`
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "chatrelay:ws:",
	}
}

// Channel is the pub/sub channel broadcasts travel on.
func (c *RedisConfig) Channel() string {
	return c.Prefix + "broadcast"
}
