package cli

import (
	"fmt"
	"strings"

	"snapkeep/internal/retention"

	"github.com/urfave/cli/v2"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect the configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "check",
				Usage: "validate the config file and print the effective settings",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "ping", Usage: "also reach the object store and registry"},
				},
				Action: configCheck,
			},
		},
	}
}

func configCheck(c *cli.Context) error {
	if c.NArg() != 0 {
		return usageError("config check [--ping]")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	budget, err := retention.BudgetFromConfig(e.cfg.Retention)
	if err != nil {
		return err
	}

	backend := "local"
	if strings.TrimSpace(e.cfg.S3.Bucket) != "" {
		backend = "s3 bucket=" + e.cfg.S3.Bucket
	}
	fmt.Fprintf(e.stdout, "config: %s\n", c.String("config"))
	fmt.Fprintf(e.stdout, "listen_addr: %s\n", e.cfg.ListenAddr)
	fmt.Fprintf(e.stdout, "store: %s\n", backend)
	fmt.Fprintf(e.stdout, "registry: %s\n", e.cfg.Registry.Driver)
	fmt.Fprintf(e.stdout, "retention: %s\n", budget)
	if e.cfg.Retention.SweepInterval.Duration > 0 {
		fmt.Fprintf(e.stdout, "sweep_interval: %s\n", e.cfg.Retention.SweepInterval.Duration)
	} else {
		fmt.Fprintln(e.stdout, "sweep_interval: disabled")
	}
	fmt.Fprintf(e.stdout, "display_limit: %d\n", e.cfg.DisplayLimit)

	if !c.Bool("ping") {
		return nil
	}
	if _, err := e.openStore(c.Context); err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	fmt.Fprintln(e.stdout, "store: reachable")
	reg, err := e.openRegistry(c.Context)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if err := reg.Close(); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, "registry: reachable")
	return nil
}
