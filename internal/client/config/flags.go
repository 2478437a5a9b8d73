package config

import (
	"flag"
	"io"

	"github.com/mittimoney/mittimoney/internal/flagx"
)

var clientFlags = []string{
	"-db", "-u", "-b", "-a", "-t", "-rest-url", "-rest-key",
	"-s3-bucket", "-s3-region", "-s3-endpoint",
	"-i", "-r", "-timeout", "-l", "-f", "-log-file", "-s", "-otlp",
}

// parseFlags overlays the client's flags from args; anything else in args
// is left for other consumers.
//
//	-db string       SQLite database file
//	-u string        user id
//	-b string        backend: none, grpc, rest or s3
//	-a string        gRPC server address
//	-t string        gRPC bearer token
//	-i duration      sync interval
//	-r int           retry ceiling per queue entry
//	-s string        status HTTP address ("" disables it)
//	-otlp string     OTLP/gRPC trace endpoint
func parseFlags(cfg *Config, args []string) error {
	filtered := flagx.FilterArgs(args, clientFlags)

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	backend := string(cfg.Backend)

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "database file")
	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id")
	fs.StringVar(&backend, "b", backend, "remote backend")
	fs.StringVar(&cfg.GRPCAddr, "a", cfg.GRPCAddr, "gRPC server address")
	fs.StringVar(&cfg.GRPCToken, "t", cfg.GRPCToken, "gRPC access token")
	fs.StringVar(&cfg.RESTURL, "rest-url", cfg.RESTURL, "PostgREST base URL")
	fs.StringVar(&cfg.RESTAPIKey, "rest-key", cfg.RESTAPIKey, "PostgREST API key")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3 endpoint override")
	fs.DurationVar(&cfg.SyncInterval, "i", cfg.SyncInterval, "sync interval")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "max retries")
	fs.DurationVar(&cfg.CallTimeout, "timeout", cfg.CallTimeout, "remote call timeout")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "f", cfg.LogFormat, "log format")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file")
	fs.StringVar(&cfg.StatusAddr, "s", cfg.StatusAddr, "status address")
	fs.StringVar(&cfg.OTLPEndpoint, "otlp", cfg.OTLPEndpoint, "OTLP endpoint")

	if err := fs.Parse(filtered); err != nil {
		return err
	}
	cfg.Backend = Backend(backend)
	return nil
}
