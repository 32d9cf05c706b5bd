package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"snapkeep/internal/listing"

	"github.com/urfave/cli/v2"
)

func imagesCommand() *cli.Command {
	return &cli.Command{
		Name:  "images",
		Usage: "inspect stored snapshots",
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "list a camera's snapshots, newest first",
				ArgsUsage: "<camera-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "number of snapshots to show (defaults to display_limit)"},
					&cli.BoolFlag{Name: "all", Usage: "show every snapshot"},
					&cli.BoolFlag{Name: "urls", Usage: "include presigned URLs"},
				},
				Action: imagesList,
			},
		},
	}
}

func imagesList(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError("images list [--limit <n>] [--all] [--urls] <camera-id>")
	}
	limit := c.Int("limit")
	if c.IsSet("limit") && limit <= 0 {
		return fmt.Errorf("limit must be > 0")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	if !c.IsSet("limit") {
		limit = e.cfg.DisplayLimit
	}
	if c.Bool("all") {
		limit = 0
	}
	store, err := e.openStore(c.Context)
	if err != nil {
		return err
	}

	cameraID := c.Args().First()
	images, err := listing.New(store, e.log).Images(c.Context, cameraID, limit, e.cfg.S3.PresignTTL.Duration)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		fmt.Fprintf(e.stdout, "no snapshots for camera %s\n", cameraID)
		return nil
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	if c.Bool("urls") {
		fmt.Fprintln(tw, "TIMESTAMP\tSIZE\tKEY\tURL")
	} else {
		fmt.Fprintln(tw, "TIMESTAMP\tSIZE\tKEY")
	}
	for _, img := range images {
		if c.Bool("urls") {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", img.Timestamp, img.SizeBytes, img.Key, img.URL)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", img.Timestamp, img.SizeBytes, img.Key)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%d snapshot(s) as of %s\n", len(images), time.Now().UTC().Format(time.RFC3339))
	return nil
}
