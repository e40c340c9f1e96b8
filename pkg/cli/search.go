package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/urfave/cli/v3"
)

func searchCommand() *cli.Command {
	var (
		cfg    config
		owner  string
		limit  int64
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "owner-id",
			Aliases:     []string{"o"},
			Usage:       "Owner whose memories to search",
			Sources:     cli.EnvVars("MNEME_OWNER_ID"),
			Destination: &owner,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of results",
			Value:       10,
			Destination: &limit,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print results as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:      "search",
		Usage:     "Search memories by semantic similarity",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := c.Args().First()
			if query == "" {
				return goerr.New("query argument is required")
			}

			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := uc.Search(ctx, model.OwnerID(owner), query, int(limit))
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(c.Root().Writer, results)
			}

			w := c.Root().Writer
			if len(results) == 0 {
				fmt.Fprintln(w, "No memories found")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(w, "%.4f  %s  %s\n", r.Similarity, r.Record.ID, r.Record.Content)
			}
			return nil
		},
	}
}
