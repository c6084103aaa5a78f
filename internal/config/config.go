package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr       string
	CORSOrigin string
	APIURL     string
	ChannelURL string
	APIToken   string
	TenantID   string
	UserID     string
	ProjectID  string
	DocumentID string

	PageSize       int
	PendingTimeout time.Duration
	RequestTimeout time.Duration
	VersionsDir    string

	// Redis snapshot cache; empty disables it
	RedisURL string

	MeiliURL       string
	MeiliMasterKey string

	// Attachment storage (S3 compatible)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	LogLevel  string
	LogFormat string
}

func Load() Config {
	return Config{
		Addr:           getenv("COLLAB_ADDR", ":8788"),
		CORSOrigin:     getenv("CORS_ORIGIN", "http://localhost:5173"),
		APIURL:         getenv("COLLAB_API_URL", "http://localhost:8787"),
		ChannelURL:     getenv("COLLAB_CHANNEL_URL", "ws://localhost:8787/ws"),
		APIToken:       getenv("COLLAB_API_TOKEN", ""),
		TenantID:       getenv("COLLAB_TENANT_ID", ""),
		UserID:         getenv("COLLAB_USER_ID", ""),
		ProjectID:      getenv("COLLAB_PROJECT_ID", ""),
		DocumentID:     getenv("COLLAB_DOCUMENT_ID", ""),
		PageSize:       getenvInt("COLLAB_PAGE_SIZE", 50),
		PendingTimeout: time.Duration(getenvInt("COLLAB_PENDING_TIMEOUT_SECONDS", 0)) * time.Second,
		RequestTimeout: time.Duration(getenvInt("COLLAB_REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		VersionsDir:    getenv("COLLAB_VERSIONS_DIR", ""),
		RedisURL:       getenv("REDIS_URL", ""),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		S3Endpoint:     getenv("S3_ENDPOINT", ""),
		S3AccessKey:    getenv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getenv("S3_SECRET_KEY", ""),
		S3Bucket:       getenv("S3_BUCKET", "collab-attachments"),
		S3UseSSL:       getenvBool("S3_USE_SSL", true),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogFormat:      getenv("LOG_FORMAT", "console"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
