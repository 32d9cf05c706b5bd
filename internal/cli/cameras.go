package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"snapkeep/internal/registry"

	"github.com/urfave/cli/v2"
)

func camerasCommand() *cli.Command {
	return &cli.Command{
		Name:  "cameras",
		Usage: "manage the camera registry",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "register a camera",
				ArgsUsage: "<camera-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Usage: "owning user (defaults to registry.default_owner)"},
					&cli.StringFlag{Name: "name", Usage: "display name"},
					&cli.StringFlag{Name: "location", Usage: "free-form location"},
					&cli.StringFlag{Name: "device-token", Usage: "token the camera must send on upload"},
				},
				Action: camerasAdd,
			},
			{
				Name:  "list",
				Usage: "list cameras",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "only cameras this user owns or has been shared"},
				},
				Action: camerasList,
			},
			{
				Name:      "update",
				Usage:     "change a camera's name or location",
				ArgsUsage: "<camera-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "display name"},
					&cli.StringFlag{Name: "location", Usage: "free-form location"},
				},
				Action: camerasUpdate,
			},
			{
				Name:      "set-token",
				Usage:     "replace a camera's device token; an empty token disables the check",
				ArgsUsage: "<camera-id> [token]",
				Action:    camerasSetToken,
			},
			{
				Name:      "share",
				Usage:     "grant a user access to a camera",
				ArgsUsage: "<camera-id> <user>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "can-edit", Usage: "allow the user to edit the camera"},
				},
				Action: camerasShare,
			},
			{
				Name:      "shares",
				Usage:     "list the users a camera is shared with",
				ArgsUsage: "<camera-id>",
				Action:    camerasShares,
			},
			{
				Name:      "unshare",
				Usage:     "revoke a user's access to a camera",
				ArgsUsage: "<camera-id> <user>",
				Action:    camerasUnshare,
			},
			{
				Name:      "remove",
				Usage:     "delete a camera and its shares; stored snapshots are kept",
				ArgsUsage: "<camera-id>",
				Action:    camerasRemove,
			},
		},
	}
}

func camerasAdd(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError("cameras add [--owner <user>] [--name <name>] [--location <loc>] [--device-token <token>] <camera-id>")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	reg, err := e.openRegistry(c.Context)
	if err != nil {
		return err
	}
	defer reg.Close()

	owner := strings.TrimSpace(c.String("owner"))
	if owner == "" {
		owner = e.cfg.Registry.DefaultOwner
	}
	id := c.Args().First()
	name := c.String("name")
	if name == "" {
		name = id
	}
	cam, err := reg.CreateCamera(c.Context, registry.Camera{
		ID:       id,
		Name:     name,
		Location: c.String("location"),
		Owner:    owner,
	}, c.String("device-token"))
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "camera %s registered (owner=%s device_token=%t)\n", cam.ID, cam.Owner, cam.HasDeviceToken())
	return nil
}

func camerasList(c *cli.Context) error {
	if c.NArg() != 0 {
		return usageError("cameras list [--user <user>]")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	reg, err := e.openRegistry(c.Context)
	if err != nil {
		return err
	}
	defer reg.Close()

	var cams []registry.Camera
	if user := strings.TrimSpace(c.String("user")); user != "" {
		cams, err = reg.ListCameras(c.Context, user)
	} else {
		cams, err = reg.AllCameras(c.Context)
	}
	if err != nil {
		return err
	}
	if len(cams) == 0 {
		fmt.Fprintln(e.stdout, "no cameras registered")
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CAMERA\tNAME\tLOCATION\tOWNER\tSTATUS\tLAST SEEN")
	for _, cam := range cams {
		st := registry.StatusOf(cam, now, e.cfg.CameraTimeout.Duration)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", cam.ID, cam.Name, dash(cam.Location), cam.Owner, st.Status, st.LastSeen)
	}
	return tw.Flush()
}

func camerasUpdate(c *cli.Context) error {
	if c.NArg() != 1 || (!c.IsSet("name") && !c.IsSet("location")) {
		return usageError("cameras update [--name <name>] [--location <loc>] <camera-id>")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	reg, err := e.openRegistry(c.Context)
	if err != nil {
		return err
	}
	defer reg.Close()

	id := c.Args().First()
	cam, err := reg.GetCamera(c.Context, id)
	if err != nil {
		return err
	}
	name, location := cam.Name, cam.Location
	if c.IsSet("name") {
		name = c.String("name")
	}
	if c.IsSet("location") {
		location = c.String("location")
	}
	if err := reg.UpdateCamera(c.Context, id, name, location); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "camera %s updated\n", id)
	return nil
}

func camerasSetToken(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return usageError("cameras set-token <camera-id> [token]")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	reg, err := e.openRegistry(c.Context)
	if err != nil {
		return err
	}
	defer reg.Close()

	id, token := c.Args().Get(0), c.Args().Get(1)
	if err := reg.SetDeviceToken(c.Context, id, token); err != nil {
		return err
	}
	if token == "" {
		fmt.Fprintf(e.stdout, "camera %s device token cleared\n", id)
		return nil
	}
	fmt.Fprintf(e.stdout, "camera %s device token set\n", id)
	return nil
}

func camerasShare(c *cli.Context) error {
	if c.NArg() != 2 {
		return usageError("cameras share [--can-edit] <camera-id> <user>")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	reg, err := e.openRegistry(c.Context)
	if err != nil {
		return err
	}
	defer reg.Close()

	id, user := c.Args().Get(0), c.Args().Get(1)
	if err := reg.Share(c.Context, id, user, c.Bool("can-edit")); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "camera %s shared with %s\n", id, user)
	return nil
}

func camerasShares(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError("cameras shares <camera-id>")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	reg, err := e.openRegistry(c.Context)
	if err != nil {
		return err
	}
	defer reg.Close()

	id := c.Args().First()
	if _, err := reg.GetCamera(c.Context, id); err != nil {
		return err
	}
	shares, err := reg.Shares(c.Context, id)
	if err != nil {
		return err
	}
	if len(shares) == 0 {
		fmt.Fprintf(e.stdout, "camera %s is not shared\n", id)
		return nil
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tCAN EDIT\tSINCE")
	for _, sh := range shares {
		fmt.Fprintf(tw, "%s\t%t\t%s\n", sh.Username, sh.CanEdit, sh.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func camerasUnshare(c *cli.Context) error {
	if c.NArg() != 2 {
		return usageError("cameras unshare <camera-id> <user>")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	reg, err := e.openRegistry(c.Context)
	if err != nil {
		return err
	}
	defer reg.Close()

	id, user := c.Args().Get(0), c.Args().Get(1)
	if err := reg.Unshare(c.Context, id, user); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "camera %s no longer shared with %s\n", id, user)
	return nil
}

func camerasRemove(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError("cameras remove <camera-id>")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	reg, err := e.openRegistry(c.Context)
	if err != nil {
		return err
	}
	defer reg.Close()

	id := c.Args().First()
	if err := reg.DeleteCamera(c.Context, id); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "camera %s removed\n", id)
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
