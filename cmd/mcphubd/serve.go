package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcphub/hub/pkg/config"
	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/generation"
	"github.com/mcphub/hub/pkg/health"
	"github.com/mcphub/hub/pkg/hub"
	"github.com/mcphub/hub/pkg/log"
	"github.com/mcphub/hub/pkg/secrets"
	"github.com/mcphub/hub/pkg/supervisor"
	"github.com/mcphub/hub/pkg/telemetry"
)

// serveOptions holds the serve command's flags (spec.md §6 "CLI": config
// path, working directory, transport mode).
type serveOptions struct {
	configPath string
	workDir    string
	transport  string
	host       string
	port       int
	secretsDir string
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load a config, mount its upstream servers, and serve the aggregated hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to the hub config file (yaml, json, or jsonc)")
	cmd.Flags().StringVar(&opts.workDir, "dir", "", "working directory to run from (defaults to the current directory)")
	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "transport to serve on: stdio, sse, or streamable-http")
	cmd.Flags().StringVar(&opts.host, "host", "", "host to bind for sse/streamable-http transports")
	cmd.Flags().IntVar(&opts.port, "port", 0, "port to bind for sse/streamable-http transports")
	cmd.Flags().StringVar(&opts.secretsDir, "secrets-dir", "", "directory for the on-disk secrets store (defaults to ~/.mcphub/secrets)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	if opts.workDir != "" {
		if err := os.Chdir(opts.workDir); err != nil {
			return errs.Wrap(errs.KindConfig, err, "changing to working directory "+opts.workDir)
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		log.SetLevel(log.ParseLevel(cfg.LogLevel))
	}

	store, err := secrets.Open(resolveSecretsDir(opts.secretsDir))
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "opening secrets store")
	}

	provider := telemetry.NewProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	genBus := supervisor.NewBus()
	controller := generation.New(cfg.RolloverConfig(), buildHubFactory(config.ResolverFromStore(store)), genBus)

	gen, err := controller.Promote(ctx, cfg)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "bringing up the first generation")
	}
	go controller.WatchErrorRate(ctx)

	probes := health.NewRegistry(health.Config{})
	health.RegisterUpstreamProbes(probes, gen.Worker.Hub.Directory())
	gen.Worker.Hub.SetHealth(probes)
	go probes.Run(ctx)

	transport := hub.TransportKind(opts.transport)
	ln, err := listenerFor(ctx, transport, opts.host, opts.port)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- gen.Worker.Hub.Serve(ctx, ln, hub.ServeOptions{Transport: transport})
	}()

	select {
	case <-ctx.Done():
		log.Log("mcphubd: shutdown signal received, draining")
	case err := <-serveErr:
		if err != nil {
			log.Errorf("mcphubd: transport serve failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		return errs.Wrap(errs.KindInternal, err, "shutting down generations")
	}
	return nil
}

func listenerFor(ctx context.Context, transport hub.TransportKind, host string, port int) (net.Listener, error) {
	if transport == hub.TransportStdio {
		return nil, nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "binding listener")
	}
	return ln, nil
}

func resolveSecretsDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".mcphub", "secrets")
	}
	return filepath.Join(home, ".mcphub", "secrets")
}
