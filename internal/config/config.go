package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"HPIT_DATABASE_URL"`                   // empty = in-memory store
	GRPCAddr    string `env:"HPIT_GRPC_ADDR" envDefault:":9090"`   // gRPC listen address
	HTTPAddr    string `env:"HPIT_HTTP_ADDR" envDefault:":8080"`   // HTTP listen address
	NATSURL     string `env:"HPIT_NATS_URL"`                       // optional, empty = no events
	AuthToken   string `env:"HPIT_AUTH_TOKEN"`                     // optional, empty = auth disabled
	Version     string `env:"HPIT_VERSION_STRING" envDefault:"2.1"` // reported by GET /version

	// SessionTTL disconnects entities idle for longer than this. 0 keeps them forever.
	SessionTTL time.Duration `env:"HPIT_SESSION_TTL" envDefault:"0"`

	LogFormat    string `env:"HPIT_LOG_FORMAT" envDefault:"text"` // text, json or console
	LogLevel     string `env:"HPIT_LOG_LEVEL" envDefault:"info"`
	OTelEndpoint string `env:"HPIT_OTEL_ENDPOINT"` // OTLP/HTTP traces, empty = disabled

	// Sync settings
	SyncInterval   time.Duration `env:"HPIT_SYNC_INTERVAL" envDefault:"3m"` // 0 = disabled
	SyncS3Bucket   string        `env:"HPIT_SYNC_S3_BUCKET"`                // enables S3 when set
	SyncS3Endpoint string        `env:"HPIT_SYNC_S3_ENDPOINT"`              // custom endpoint for MinIO
	SyncS3Region   string        `env:"HPIT_SYNC_S3_REGION" envDefault:"us-east-1"`
	SyncS3Key      string        `env:"HPIT_SYNC_S3_KEY" envDefault:"hpit/backup.jsonl"`
	SyncS3Snapshot bool          `env:"HPIT_SYNC_S3_SNAPSHOTS"` // keep dated copies beside the key
	SyncGitRepo    string        `env:"HPIT_SYNC_GIT_REPO"` // enables git when set; path to clone
	SyncGitFile    string        `env:"HPIT_SYNC_GIT_FILE" envDefault:"hpit.jsonl"`
	SyncGitBranch  string        `env:"HPIT_SYNC_GIT_BRANCH" envDefault:"main"`
}

func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if c.SessionTTL < 0 {
		return nil, fmt.Errorf("HPIT_SESSION_TTL must not be negative")
	}
	switch c.LogFormat {
	case "text", "json", "console":
	default:
		return nil, fmt.Errorf("HPIT_LOG_FORMAT: unknown format %q", c.LogFormat)
	}
	return &c, nil
}
