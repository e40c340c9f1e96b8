package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/urfave/cli/v3"
)

func addCommand() *cli.Command {
	var (
		cfg     config
		owner   string
		text    string
		app     string
		noInfer bool
		asJSON  bool
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
		&cli.StringFlag{
			Name:        "text",
			Aliases:     []string{"t"},
			Usage:       "Text to remember (reads stdin when omitted)",
			Destination: &text,
		},
		&cli.StringFlag{
			Name:        "app",
			Usage:       "Originating application name",
			Sources:     cli.EnvVars("MNEME_APP"),
			Destination: &app,
		},
		&cli.BoolFlag{
			Name:        "no-infer",
			Usage:       "Store the text verbatim without fact extraction",
			Destination: &noInfer,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the full report as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "add",
		Usage: "Submit text to the memory pipeline",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if text == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return goerr.Wrap(err, "failed to read stdin")
				}
				text = string(data)
			}

			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			sub := model.NewSubmission(model.OwnerID(owner), text)
			sub.App = app
			sub.Infer = !noInfer

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
				spinner.WithWriter(os.Stderr), spinner.WithSuffix(" reconciling..."))
			sp.Start()
			report, err := uc.Add(ctx, sub)
			sp.Stop()
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(c.Root().Writer, report)
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Submission %s: %d fact(s)\n", report.SubmissionID, report.FactsCount)
			for _, outcome := range report.Outcomes {
				switch outcome.Kind {
				case model.OutcomeFailed:
					fmt.Fprintf(w, "  %-8s %q: %s\n", outcome.Kind, outcome.Fact, outcome.Error)
				case model.OutcomeIgnored:
					fmt.Fprintf(w, "  %-8s %q (%s)\n", outcome.Kind, outcome.Fact, outcome.Reason)
				default:
					fmt.Fprintf(w, "  %-8s %q -> %s\n", outcome.Kind, outcome.Fact, outcome.MemoryID)
				}
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to encode output")
	}
	return nil
}
