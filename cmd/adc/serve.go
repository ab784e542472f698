package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/scott-cotton/cli"
	"github.com/signadot/adcoll/system/collectd/server"
	"github.com/signadot/adcoll/system/collectd/storage"
	"golang.org/x/sync/errgroup"
)

func serve(cfg *ServeConfig, cc *cli.Context, args []string) error {
	_, err := cfg.Serve.Parse(cc, args)
	if err != nil {
		return err
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("%w: -data is required", cli.ErrUsage)
	}

	// Start gops agent for debugging
	if err := agent.Listen(agent.Options{}); err != nil {
		fmt.Fprintf(cc.Out, "gops agent failed: %v\n", err)
	}
	defer agent.Close()

	serverConfig := server.DefaultConfig()
	if cfg.ConfigFile != "" {
		serverConfig, err = server.LoadConfig(cfg.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	if cfg.Listen != "" {
		serverConfig.Listen = cfg.Listen
	}
	if cfg.NoSync {
		serverConfig.Sync = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(&server.Spec{Config: serverConfig})
	store, err := storage.Open(cfg.DataDir, &storage.Options{
		Log:  srv.Spec.Log,
		Sync: serverConfig.Sync,
	})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()
	srv.Spec.Storage = store

	if err := srv.StartTCP(serverConfig.Listen); err != nil {
		return fmt.Errorf("failed to start TCP listener: %w", err)
	}
	fmt.Fprintf(cc.Out, "collectd listening on %s (data: %s)\n", srv.TCPAddr(), cfg.DataDir)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.RunCheckpoints(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		fmt.Fprintf(cc.Out, "\nShutting down...\n")
		return srv.StopTCP()
	})
	return g.Wait()
}
