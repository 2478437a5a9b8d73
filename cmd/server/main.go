package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mittimoney/mittimoney/internal/flagx"
	"github.com/mittimoney/mittimoney/internal/logging"
	"github.com/mittimoney/mittimoney/internal/server"
	"github.com/mittimoney/mittimoney/internal/server/auth"
	"github.com/mittimoney/mittimoney/internal/server/config"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mittimoney-server",
		Short:         "MittiMoney document server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newTokenCmd())
	return root
}

// Flags are parsed by the config package so file and flag layering stays in
// one place.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "serve [-c file] [-a addr] [-d dsn] [-s secret] [-t validity] [-l level] [-f format]",
		Short:              "Run the gRPC document store",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(args)
			if err != nil {
				return err
			}

			logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
			if err != nil {
				return err
			}
			defer closer.Close()

			app, err := server.NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "token -u user-id [-c file] [-s secret] [-t validity]",
		Short:              "Mint a bearer token for a user id",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(args)
			if err != nil {
				return err
			}
			userID, err := parseUser(args)
			if err != nil {
				return err
			}

			token, err := auth.GenerateToken(userID, []byte(cfg.SecretKey), cfg.TokenValidity)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func parseUser(args []string) (string, error) {
	var userID string
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&userID, "u", "", "user id")
	fs.StringVar(&userID, "user", "", "user id")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-u", "-user"})); err != nil {
		return "", err
	}
	if userID == "" {
		return "", errors.New("token: -u user id is required")
	}
	return userID, nil
}
