// Package config handles configuration for the MittiMoney client.
//
// Values are layered: LoadDefaults, then an optional JSON or YAML file given
// with -c/-config, then command-line flags.
package config

import (
	"fmt"
	"time"
)

// Backend names the Remote Gateway implementation.
type Backend string

const (
	BackendNone Backend = "none"
	BackendGRPC Backend = "grpc"
	BackendREST Backend = "rest"
	BackendS3   Backend = "s3"
)

type Config struct {
	DBPath string
	UserID string

	Backend     Backend
	GRPCAddr    string
	GRPCToken   string
	RESTURL     string
	RESTAPIKey  string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	SyncInterval        time.Duration
	MaxRetries          int
	CallTimeout         time.Duration
	OnlineCheckInterval time.Duration

	LogLevel  string
	LogFormat string
	LogFile   string

	// StatusAddr is the status HTTP listener; empty disables it.
	StatusAddr string
	// OTLPEndpoint receives traces; empty disables tracing.
	OTLPEndpoint string
}

func (c *Config) LoadDefaults() {
	c.DBPath = "mittimoney.db"
	c.Backend = BackendNone
	c.GRPCAddr = "localhost:50051"
	c.S3Region = "us-east-1"
	c.SyncInterval = 30 * time.Second
	c.MaxRetries = 3
	c.CallTimeout = 10 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.StatusAddr = "127.0.0.1:8089"
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendNone, BackendGRPC, BackendREST, BackendS3:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive")
	}
	return nil
}

// DSN is the SQLite data source for DBPath.
func (c *Config) DSN() string {
	return "file:" + c.DBPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
