package cli

import (
	"errors"
	"fmt"
	"strings"

	"snapkeep/internal/retention"

	"github.com/urfave/cli/v2"
)

func retentionCommand() *cli.Command {
	return &cli.Command{
		Name:  "retention",
		Usage: "apply the configured retention budget",
		Subcommands: []*cli.Command{
			{
				Name:  "enforce",
				Usage: "evict snapshots over budget for one or every registered camera",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "camera", Usage: "only this camera (need not be registered)"},
					&cli.BoolFlag{Name: "dry-run", Usage: "report what would be deleted without deleting"},
				},
				Action: retentionEnforce,
			},
		},
	}
}

func retentionEnforce(c *cli.Context) error {
	if c.NArg() != 0 {
		return usageError("retention enforce [--camera <camera-id>] [--dry-run]")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	store, err := e.openStore(c.Context)
	if err != nil {
		return err
	}
	enforcer, err := e.openEnforcer(store)
	if err != nil {
		return err
	}

	cameraIDs := []string{strings.TrimSpace(c.String("camera"))}
	if cameraIDs[0] == "" {
		reg, err := e.openRegistry(c.Context)
		if err != nil {
			return err
		}
		cams, err := reg.AllCameras(c.Context)
		_ = reg.Close()
		if err != nil {
			return err
		}
		cameraIDs = cameraIDs[:0]
		for _, cam := range cams {
			cameraIDs = append(cameraIDs, cam.ID)
		}
	}

	dryRun := c.Bool("dry-run")
	fmt.Fprintf(e.stdout, "retention %s dry_run=%t cameras=%d\n", enforcer.Budget(), dryRun, len(cameraIDs))
	var errs []error
	for _, id := range cameraIDs {
		var res retention.Result
		if dryRun {
			res, err = enforcer.Plan(c.Context, id, retention.Admitted{})
		} else {
			res, err = enforcer.Enforce(c.Context, id, retention.Admitted{})
		}
		printRetentionResult(e, res, dryRun)
		if err != nil {
			errs = append(errs, fmt.Errorf("camera %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func printRetentionResult(e *env, res retention.Result, dryRun bool) {
	if res.Skipped {
		fmt.Fprintf(e.stdout, "%s: skipped\n", res.CameraID)
		return
	}
	verb := "deleted"
	n := len(res.Deleted)
	if dryRun {
		verb = "would delete"
		n = len(res.Candidates)
	}
	fmt.Fprintf(e.stdout, "%s: listed=%d %s=%d retained=%d (%d bytes) failures=%d\n",
		res.CameraID, res.Listed, verb, n, res.RetainedCount, res.RetainedBytes, len(res.Failures))
	if dryRun {
		for _, key := range res.Candidates {
			fmt.Fprintf(e.stdout, "  %s\n", key)
		}
	}
	for _, f := range res.Failures {
		fmt.Fprintf(e.stderr, "  delete %s failed: %v\n", f.Key, f.Err)
	}
}
