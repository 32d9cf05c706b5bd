package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"snapkeep/internal/config"
	"snapkeep/internal/daemon"
	"snapkeep/internal/logging"
	"snapkeep/internal/state"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "snapkeepd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	defaultConfigPath, err := state.ConfigPath()
	if err != nil {
		return fmt.Errorf("state path error: %w", err)
	}

	fs := flag.NewFlagSet("snapkeepd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	listenAddr := fs.String("listen", "", "listen address (overrides listen_addr)")
	allowRemote := fs.Bool("allow-remote", false, "allow a non-loopback listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if err := state.LoadEnvFile(); err != nil {
		return fmt.Errorf("env file error: %w", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return fmt.Errorf("log config error: %w", err)
	}

	addr := cfg.ListenAddr
	if *listenAddr != "" {
		addr = *listenAddr
	}
	addr, err = daemon.ValidateListenAddress(addr, cfg.AllowRemote || *allowRemote)
	if err != nil {
		return fmt.Errorf("listen address error: %w", err)
	}

	d, err := daemon.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	defer d.Close()
	d.SetListenAddress(addr)

	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	return nil
}
