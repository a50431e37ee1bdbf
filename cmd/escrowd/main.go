package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"escrowledger/config"
	"escrowledger/observability/logging"
)

const (
	genesisPathEnv = "ESCROW_GENESIS"
	environmentEnv = "ESCROW_ENV"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "export" {
		return runExportCommand(ctx, args[1:], stdout, stderr)
	}
	return runNodeCommand(ctx, args, stderr)
}

func runNodeCommand(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("escrowd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := fs.String("genesis", "", "Path to a YAML genesis file (overrides "+genesisPathEnv+" and config GenesisFile)")
	allowMigrate := fs.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	env := strings.TrimSpace(os.Getenv(environmentEnv))
	if env == "" {
		env = cfg.Log.Environment
	}
	logger, logCloser, err := logging.SetupWithOptions("escrowd", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)
	d, err := newDaemon(ctx, cfg, daemonOptions{
		GenesisPath:  genesisPath,
		AllowMigrate: *allowMigrate || cfg.AllowMigrate,
		Lookup:       os.LookupEnv,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialise node", slog.Any("error", err))
		return 1
	}
	defer d.Close()

	ln, err := net.Listen("tcp", cfg.RPC.ListenAddress)
	if err != nil {
		logger.Error("RPC server failed to start", slog.String("addr", cfg.RPC.ListenAddress), slog.Any("error", err))
		return 1
	}
	logger.Info("escrow node initialised and running",
		slog.String("network", cfg.NetworkName),
		slog.String("backend", cfg.DBBackend),
		slog.String("rpc", ln.Addr().String()))
	if err := d.Run(ctx, ln); err != nil {
		logger.Error("escrow node terminated", slog.Any("error", err))
		return 1
	}
	logger.Info("escrow node stopped")
	return 0
}

type envLookupFunc func(string) (string, bool)

// resolveGenesisPath prefers the flag, then the environment, then config.
func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}
