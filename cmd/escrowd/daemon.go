package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"escrowledger/config"
	"escrowledger/core"
	"escrowledger/core/genesis"
	"escrowledger/integrations/webhooks"
	telemetry "escrowledger/observability/otel"
	"escrowledger/rpc"
	"escrowledger/rpc/middleware"
	"escrowledger/rpc/modules"
	"escrowledger/services/archive"
	"escrowledger/storage"
)

var errGenesisRequired = errors.New("no genesis file provided; supply one via --genesis, " + genesisPathEnv + ", or config GenesisFile")

type daemonOptions struct {
	GenesisPath  string
	AllowMigrate bool
	Lookup       envLookupFunc
}

// daemon owns every long-lived component of a running node.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	db         storage.Database
	node       *core.Node
	archive    *archive.Archive
	dispatcher *webhooks.Dispatcher
	server     *rpc.Server

	shutdownTelemetry func(context.Context) error
}

func newDaemon(ctx context.Context, cfg *config.Config, opts daemonOptions, logger *slog.Logger) (d *daemon, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	d = &daemon{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.shutdownTelemetry, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: "escrowd",
		Environment: cfg.Log.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	d.db, err = storage.Open(cfg.DBBackend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	d.node, err = core.NewNode(d.db, logger, core.WithAllowMigrate(opts.AllowMigrate))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err = d.applyGenesis(opts.GenesisPath); err != nil {
		return nil, err
	}

	var store modules.EventStore
	if cfg.Archive.Enabled {
		d.archive, err = archive.Open(cfg.Archive.Driver, cfg.Archive.DSN, logger)
		if err != nil {
			return nil, err
		}
		d.node.Bus().AddSink(d.archive.Sink())
		store = d.archive
		logger.Info("event archive enabled", slog.String("driver", cfg.Archive.Driver))
	}

	if cfg.Webhook.Enabled() {
		secret, ok := opts.Lookup(cfg.Webhook.SecretEnv)
		if !ok || strings.TrimSpace(secret) == "" {
			return nil, fmt.Errorf("webhook: %s is not set", cfg.Webhook.SecretEnv)
		}
		hookOpts := []webhooks.Option{
			webhooks.WithLogger(logger),
			webhooks.WithEventTypes(cfg.Webhook.EventTypes...),
		}
		if cfg.Webhook.MaxAttempts > 0 {
			hookOpts = append(hookOpts, webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0))
		}
		if cfg.Webhook.QueueSize > 0 {
			hookOpts = append(hookOpts, webhooks.WithQueueSize(cfg.Webhook.QueueSize))
		}
		d.dispatcher, err = webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(secret), hookOpts...)
		if err != nil {
			return nil, err
		}
		d.node.Bus().AddSink(d.dispatcher.Sink())
		logger.Info("webhook delivery enabled", slog.String("endpoint", cfg.Webhook.Endpoint))
	}

	serverCfg, err := buildServerConfig(cfg, opts.Lookup)
	if err != nil {
		return nil, err
	}
	if serverCfg.Auth.Enabled {
		logger.Info("rpc bearer auth enabled", slog.String("issuer", cfg.RPC.JWTIssuer))
	}
	d.server, err = rpc.NewServer(d.node, store, serverCfg, logger)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *daemon) applyGenesis(path string) error {
	if path == "" {
		_, initialised, err := d.node.EscrowAdmin()
		if err != nil {
			return err
		}
		if !initialised {
			return errGenesisRequired
		}
		return nil
	}
	spec, err := genesis.Load(path)
	if err != nil {
		return err
	}
	applied, err := d.node.ApplyGenesis(spec)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if !applied {
		d.logger.Info("genesis already applied; ignoring file", slog.String("path", path))
	}
	return nil
}

func buildServerConfig(cfg *config.Config, lookup envLookupFunc) (rpc.ServerConfig, error) {
	out := rpc.ServerConfig{
		ListenAddress:     cfg.RPC.ListenAddress,
		ReadHeaderTimeout: config.Seconds(cfg.RPC.ReadHeaderTimeoutSeconds),
		ReadTimeout:       config.Seconds(cfg.RPC.ReadTimeoutSeconds),
		WriteTimeout:      config.Seconds(cfg.RPC.WriteTimeoutSeconds),
		IdleTimeout:       config.Seconds(cfg.RPC.IdleTimeoutSeconds),
		MaxBodyBytes:      cfg.RPC.MaxBodyBytes,
		EventBuffer:       cfg.RPC.EventBuffer,
		RateLimit: middleware.RateLimit{
			RatePerSecond: cfg.RPC.RateLimitPerSecond,
			Burst:         cfg.RPC.RateLimitBurst,
		},
		CORS:        middleware.CORSConfig{AllowedOrigins: append([]string(nil), cfg.RPC.AllowedOrigins...)},
		LogRequests: cfg.RPC.LogRequests,
	}
	if envName := strings.TrimSpace(cfg.RPC.JWTSecretEnv); envName != "" {
		secret, ok := lookup(envName)
		if !ok || strings.TrimSpace(secret) == "" {
			return rpc.ServerConfig{}, fmt.Errorf("rpc: %s is not set", envName)
		}
		out.Auth = middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: secret,
			Issuer:     cfg.RPC.JWTIssuer,
		}
	}
	return out, nil
}

// Run serves RPC on ln and advances the height until ctx is done or a
// component fails.
func (d *daemon) Run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.server.ServeListener(gctx, ln)
	})
	g.Go(func() error {
		return d.node.RunHeightTicker(gctx, d.cfg.BlockInterval())
	})
	return g.Wait()
}

// Close releases components in reverse start order. It is safe on a
// partially constructed daemon.
func (d *daemon) Close() {
	if d.dispatcher != nil {
		d.dispatcher.Close()
	}
	if d.archive != nil {
		if err := d.archive.Close(); err != nil {
			d.logger.Warn("close archive", slog.Any("error", err))
		}
	}
	if d.node != nil {
		d.node.Close()
	} else if d.db != nil {
		d.db.Close()
	}
	if d.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.shutdownTelemetry(ctx); err != nil {
			d.logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}
}
