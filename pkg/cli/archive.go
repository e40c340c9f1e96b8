package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/urfave/cli/v3"
)

func archiveCommand() *cli.Command {
	var (
		cfg       config
		owner     string
		olderThan time.Duration
		inspect   string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "inspect",
			Usage:       "Print the records of an exported archive object instead of sweeping",
			Destination: &inspect,
		},
		&cli.StringFlag{
			Name:        "owner-id",
			Aliases:     []string{"o"},
			Usage:       "Restrict the sweep to one owner",
			Sources:     cli.EnvVars("MNEME_OWNER_ID"),
			Destination: &owner,
		},
		&cli.DurationFlag{
			Name:        "older-than",
			Usage:       "Minimum age of superseded records to archive",
			Value:       30 * 24 * time.Hour,
			Sources:     cli.EnvVars("MNEME_ARCHIVE_OLDER_THAN"),
			Destination: &olderThan,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "archive",
		Usage: "Archive superseded records past the retention window",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			w := c.Root().Writer
			if inspect != "" {
				records, err := uc.ReadArchive(ctx, inspect)
				if err != nil {
					return err
				}
				for _, record := range records {
					fmt.Fprintf(w, "%s  %s  %s\n", record.ID, record.OwnerID, record.Content)
				}
				fmt.Fprintf(w, "%d record(s) in %s\n", len(records), inspect)
				return nil
			}

			result, err := uc.Archive(ctx, model.OwnerID(owner), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}

			fmt.Fprintf(w, "Archived %d of %d record(s)\n", result.Archived, result.Swept)
			if result.ObjectKey != "" {
				fmt.Fprintf(w, "Exported to %s\n", result.ObjectKey)
			}
			return nil
		},
	}
}
