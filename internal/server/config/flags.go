package config

import (
	"flag"
	"io"

	"github.com/mittimoney/mittimoney/internal/flagx"
)

// parseFlags overlays flags from args. Only the flags below are considered,
// so the same argv can carry flags for other consumers.
//
//	-a string     gRPC bind address
//	-d string     Postgres DSN ("" for the in-memory store)
//	-s string     JWT HMAC secret
//	-t duration   token validity (e.g. 720h)
//	-l string     log level
//	-f string     log format: text, json or zap
func parseFlags(cfg *Config, args []string) error {
	filtered := flagx.FilterArgs(args, []string{"-a", "-d", "-s", "-t", "-l", "-f"})

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.GRPCAddr, "a", cfg.GRPCAddr, "address and port to run server")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.SecretKey, "s", cfg.SecretKey, "secret key")
	fs.DurationVar(&cfg.TokenValidity, "t", cfg.TokenValidity, "token validity")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "f", cfg.LogFormat, "log format")

	return fs.Parse(filtered)
}
