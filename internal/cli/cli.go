// Package cli implements the snapkeep admin command.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"snapkeep/internal/config"
	"snapkeep/internal/listing"
	"snapkeep/internal/logging"
	"snapkeep/internal/registry"
	"snapkeep/internal/retention"
	"snapkeep/internal/state"
	"snapkeep/internal/storage"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// Run executes the admin command with args (without the program name).
func Run(args []string) error {
	return run(context.Background(), args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	configPath, err := state.ConfigPath()
	if err != nil {
		return err
	}
	app := newApp(configPath, stdout, stderr)
	return app.RunContext(ctx, append([]string{app.Name}, args...))
}

func newApp(configPath string, stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:            "snapkeep",
		Usage:           "manage cameras, snapshots and retention",
		Writer:          stdout,
		ErrWriter:       stderr,
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   configPath,
				Usage:   "path to config file",
			},
		},
		Commands: []*cli.Command{
			camerasCommand(),
			imagesCommand(),
			retentionCommand(),
			configCommand(),
		},
	}
}

// env is what a command needs from the config file. Stores and registries
// are opened lazily so commands only touch what they use.
type env struct {
	cfg    *config.Config
	log    zerolog.Logger
	stdout io.Writer
	stderr io.Writer
}

func loadEnv(c *cli.Context) (*env, error) {
	if err := state.LoadEnvFile(); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log, c.App.ErrWriter)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: logger, stdout: c.App.Writer, stderr: c.App.ErrWriter}, nil
}

func (e *env) openRegistry(ctx context.Context) (*registry.Registry, error) {
	path, err := state.RegistryPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return registry.Open(ctx, e.cfg.Registry, path)
}

func (e *env) openStore(ctx context.Context) (storage.ObjectStore, error) {
	dir, err := state.ObjectStoreDir()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewFromConfig(ctx, e.cfg, dir)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (e *env) openEnforcer(store storage.ObjectStore) (*retention.Enforcer, error) {
	budget, err := retention.BudgetFromConfig(e.cfg.Retention)
	if err != nil {
		return nil, err
	}
	return retention.NewEnforcer(budget, listing.New(store, e.log), store, e.log, e.cfg.RequestTimeout.Duration)
}

func usageError(usage string) error {
	return fmt.Errorf("usage: snapkeep %s", usage)
}
