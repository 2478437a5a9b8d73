package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mittimoney/mittimoney/internal/flagx"
	"github.com/mittimoney/mittimoney/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape; absent keys leave the current value.
type FileConfig struct {
	DBPath *string `json:"db_path" yaml:"db_path"`
	UserID *string `json:"user_id" yaml:"user_id"`

	Backend     *string `json:"backend" yaml:"backend"`
	GRPCAddr    *string `json:"grpc_addr" yaml:"grpc_addr"`
	GRPCToken   *string `json:"grpc_token" yaml:"grpc_token"`
	RESTURL     *string `json:"rest_url" yaml:"rest_url"`
	RESTAPIKey  *string `json:"rest_api_key" yaml:"rest_api_key"`
	S3Bucket    *string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region    *string `json:"s3_region" yaml:"s3_region"`
	S3Endpoint  *string `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKey *string `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey *string `json:"s3_secret_key" yaml:"s3_secret_key"`

	SyncInterval        *timex.Duration `json:"sync_interval" yaml:"sync_interval"`
	MaxRetries          *int            `json:"max_retries" yaml:"max_retries"`
	CallTimeout         *timex.Duration `json:"call_timeout" yaml:"call_timeout"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`

	LogLevel  *string `json:"log_level" yaml:"log_level"`
	LogFormat *string `json:"log_format" yaml:"log_format"`
	LogFile   *string `json:"log_file" yaml:"log_file"`

	StatusAddr   *string `json:"status_addr" yaml:"status_addr"`
	OTLPEndpoint *string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
}

func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, fc)
	default:
		err = json.Unmarshal(raw, fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func (fc *FileConfig) apply(cfg *Config) {
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.UserID, fc.UserID)
	if fc.Backend != nil {
		cfg.Backend = Backend(*fc.Backend)
	}
	setString(&cfg.GRPCAddr, fc.GRPCAddr)
	setString(&cfg.GRPCToken, fc.GRPCToken)
	setString(&cfg.RESTURL, fc.RESTURL)
	setString(&cfg.RESTAPIKey, fc.RESTAPIKey)
	setString(&cfg.S3Bucket, fc.S3Bucket)
	setString(&cfg.S3Region, fc.S3Region)
	setString(&cfg.S3Endpoint, fc.S3Endpoint)
	setString(&cfg.S3AccessKey, fc.S3AccessKey)
	setString(&cfg.S3SecretKey, fc.S3SecretKey)

	setDuration(&cfg.SyncInterval, fc.SyncInterval)
	setDuration(&cfg.CallTimeout, fc.CallTimeout)
	setDuration(&cfg.OnlineCheckInterval, fc.OnlineCheckInterval)
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}

	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.LogFile, fc.LogFile)
	setString(&cfg.StatusAddr, fc.StatusAddr)
	setString(&cfg.OTLPEndpoint, fc.OTLPEndpoint)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
