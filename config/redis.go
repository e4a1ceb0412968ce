package config

import (
	"sync"
)

var (
	redisOnce   sync.Once
	redisConfig *RedisConfig
)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func GetRedisConfig() *RedisConfig {
	redisOnce.Do(func() {
		loadEnv()

		redisConfig = &RedisConfig{
			Addr:      getString("REDIS_ADDR", "localhost:6379"),
			Password:  getString("REDIS_PASSWORD", ""),
			DB:        getInt("REDIS_DB", 0),
			KeyPrefix: getString("REDIS_KEY_PREFIX", "remi2ai"),
		}
	})
	return redisConfig
}
