package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/urfave/cli/v3"
)

func listCommand() *cli.Command {
	var (
		cfg    config
		owner  string
		status string
		all    bool
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "owner-id",
			Aliases:     []string{"o"},
			Usage:       "Owner whose memories to list",
			Sources:     cli.EnvVars("MNEME_OWNER_ID"),
			Destination: &owner,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "status",
			Usage:       "Filter by status (ACTIVE, SUPERSEDED, ARCHIVED)",
			Destination: &status,
		},
		&cli.BoolFlag{
			Name:        "all",
			Aliases:     []string{"a"},
			Usage:       "Include superseded and archived records",
			Destination: &all,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print records as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List memories of an owner",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var statuses []model.Status
			switch {
			case all:
				statuses = []model.Status{model.StatusActive, model.StatusSuperseded, model.StatusArchived}
			case status != "":
				s := model.Status(status)
				if err := s.Validate(); err != nil {
					return err
				}
				statuses = []model.Status{s}
			}

			records, err := uc.List(ctx, model.OwnerID(owner), statuses...)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(c.Root().Writer, records)
			}

			w := c.Root().Writer
			if len(records) == 0 {
				fmt.Fprintln(w, "No memories found")
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(w, "%s  %-10s  %.2f  %s\n", r.ID, r.Status, r.Confidence, r.Content)
			}
			return nil
		},
	}
}
