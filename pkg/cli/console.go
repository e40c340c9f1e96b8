package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

func consoleCommand() *cli.Command {
	var (
		cfg   config
		owner string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "owner-id",
			Aliases:     []string{"o"},
			Usage:       "Owner for all console operations",
			Sources:     cli.EnvVars("MNEME_OWNER_ID"),
			Destination: &owner,
			Required:    true,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "console",
		Usage: "Interactive memory console",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "mneme> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize console")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Memory console for %s. Commands: add <text>, search <query>, list, show <id>, exit\n", owner)

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "console read failed")
				}

				command, rest := splitCommand(line)
				switch command {
				case "":
					continue
				case "exit", "quit":
					return nil
				case "add", "search", "list", "show":
					if err := runConsoleCommand(ctx, uc, w, model.OwnerID(owner), command, rest); err != nil {
						fmt.Fprintf(w, "error: %v\n", err)
					}
				default:
					fmt.Fprintf(w, "unknown command: %s\n", command)
				}
			}
		},
	}
}

func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	command, rest, _ := strings.Cut(line, " ")
	return command, strings.TrimSpace(rest)
}

func runConsoleCommand(ctx context.Context, uc *memory.UseCase, w io.Writer, owner model.OwnerID, command, arg string) error {
	switch command {
	case "add":
		if arg == "" {
			return goerr.New("usage: add <text>")
		}
		report, err := uc.Add(ctx, model.NewSubmission(owner, arg))
		if err != nil {
			return err
		}
		for _, outcome := range report.Outcomes {
			if outcome.Kind == model.OutcomeFailed {
				fmt.Fprintf(w, "  %-8s %q: %s\n", outcome.Kind, outcome.Fact, outcome.Error)
				continue
			}
			fmt.Fprintf(w, "  %-8s %q\n", outcome.Kind, outcome.Fact)
		}
		return nil

	case "search":
		if arg == "" {
			return goerr.New("usage: search <query>")
		}
		results, err := uc.Search(ctx, owner, arg, 10)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(w, "  no matches")
			return nil
		}
		for _, r := range results {
			fmt.Fprintf(w, "  %.4f  %s  %s\n", r.Similarity, r.Record.ID, r.Record.Content)
		}
		return nil

	case "list":
		records, err := uc.List(ctx, owner)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(w, "  no memories")
			return nil
		}
		for _, r := range records {
			fmt.Fprintf(w, "  %s  %.2f  %s\n", r.ID, r.Confidence, r.Content)
		}
		return nil

	case "show":
		if arg == "" {
			return goerr.New("usage: show <memory-id>")
		}
		record, err := uc.Get(ctx, owner, model.MemoryID(arg))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s (%s, confidence %.2f)\n", record.Content, record.Status, record.Confidence)
		for _, h := range record.History {
			fmt.Fprintf(w, "    was: %q [%s]\n", h.Content, h.Reason)
		}
		return nil
	}

	return goerr.New("unknown command", goerr.V("command", command))
}
