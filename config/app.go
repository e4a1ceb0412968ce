package config

import (
	"sync"
	"time"
)

var (
	appOnce   sync.Once
	appConfig *AppConfig
)

type AppConfig struct {
	ServerAddr      string
	LogLevel        string
	LogEncoding     string
	StorageType     string
	MaxFiles        int
	MaxFileSize     int64
	AllowedOrigins  []string
	Preprocess      bool
	PreviewSize     int
	ProcessTimeout  time.Duration
	RetentionPeriod time.Duration
	SessionIdleTTL  time.Duration
	WorkerQueues    map[string]int
	WorkerConc      int
}

func GetAppConfig() *AppConfig {
	appOnce.Do(func() {
		loadEnv()

		appConfig = &AppConfig{
			ServerAddr:      getString("SERVER_ADDR", ":8080"),
			LogLevel:        getString("LOG_LEVEL", "info"),
			LogEncoding:     getString("LOG_ENCODING", "json"),
			StorageType:     getString("STORAGE_TYPE", "minio"),
			MaxFiles:        getInt("MAX_FILES", 3),
			MaxFileSize:     getInt64("MAX_FILE_SIZE", 10*1024*1024),
			AllowedOrigins:  getList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			Preprocess:      getBool("IMAGE_PREPROCESS", false),
			PreviewSize:     getInt("PREVIEW_SIZE", 256),
			ProcessTimeout:  getDuration("PROCESS_TIMEOUT", 10*time.Minute),
			RetentionPeriod: getDuration("RETENTION_PERIOD", 24*time.Hour),
			SessionIdleTTL:  getDuration("SESSION_IDLE_TTL", 2*time.Hour),
			WorkerQueues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			WorkerConc: getInt("WORKER_CONCURRENCY", 4),
		}
	})
	return appConfig
}
