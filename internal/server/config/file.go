package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mittimoney/mittimoney/internal/flagx"
	"github.com/mittimoney/mittimoney/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape. Pointer fields distinguish "absent" from
// zero so a partial file only overrides what it names.
type FileConfig struct {
	GRPCAddr      *string         `json:"grpc_addr" yaml:"grpc_addr"`
	DatabaseDSN   *string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey     *string         `json:"secret_key" yaml:"secret_key"`
	TokenValidity *timex.Duration `json:"token_validity" yaml:"token_validity"`
	LogLevel      *string         `json:"log_level" yaml:"log_level"`
	LogFormat     *string         `json:"log_format" yaml:"log_format"`
	LogFile       *string         `json:"log_file" yaml:"log_file"`
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
	setString(&cfg.GRPCAddr, fc.GRPCAddr)
	setString(&cfg.DatabaseDSN, fc.DatabaseDSN)
	setString(&cfg.SecretKey, fc.SecretKey)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.LogFile, fc.LogFile)
	if fc.TokenValidity != nil {
		cfg.TokenValidity = fc.TokenValidity.Duration
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
