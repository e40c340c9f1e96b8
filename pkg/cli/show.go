package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/urfave/cli/v3"
)

func showCommand() *cli.Command {
	var (
		cfg    config
		owner  string
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "owner-id",
			Aliases:     []string{"o"},
			Usage:       "Owner of the memory",
			Sources:     cli.EnvVars("MNEME_OWNER_ID"),
			Destination: &owner,
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the record as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:      "show",
		Usage:     "Show a memory record with its revision history",
		ArgsUsage: "<memory-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return goerr.New("memory-id argument is required")
			}

			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			record, err := uc.Get(ctx, model.OwnerID(owner), model.MemoryID(id))
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(c.Root().Writer, record)
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "ID:         %s\n", record.ID)
			fmt.Fprintf(w, "Owner:      %s\n", record.OwnerID)
			fmt.Fprintf(w, "Status:     %s\n", record.Status)
			fmt.Fprintf(w, "Confidence: %.2f\n", record.Confidence)
			fmt.Fprintf(w, "Created:    %s\n", record.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Updated:    %s\n", record.UpdatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Content:    %s\n", record.Content)
			if len(record.SourceRefs) > 0 {
				fmt.Fprintf(w, "Sources:    %s\n", strings.Join(record.SourceRefs, ", "))
			}
			if len(record.History) > 0 {
				fmt.Fprintln(w, "History:")
				for _, h := range record.History {
					fmt.Fprintf(w, "  %s  [%s]  %s\n", h.UpdatedAt.Format(time.RFC3339), h.Reason, h.Content)
				}
			}
			return nil
		},
	}
}
