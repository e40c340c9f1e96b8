package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/server"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg              config
		addr             string
		archiveSchedule  string
		archiveOlderThan time.Duration
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       "127.0.0.1:8741",
			Sources:     cli.EnvVars("MNEME_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "archive-schedule",
			Usage:       "Cron expression for the retention sweep (empty disables it)",
			Sources:     cli.EnvVars("MNEME_ARCHIVE_SCHEDULE"),
			Destination: &archiveSchedule,
		},
		&cli.DurationFlag{
			Name:        "archive-older-than",
			Usage:       "Minimum age of superseded records swept by the schedule",
			Value:       30 * 24 * time.Hour,
			Sources:     cli.EnvVars("MNEME_ARCHIVE_OLDER_THAN"),
			Destination: &archiveOlderThan,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP ingress",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if archiveSchedule != "" {
				scheduler := cron.New()
				_, err := scheduler.AddFunc(archiveSchedule, func() {
					if _, err := uc.Archive(ctx, "", time.Now().Add(-archiveOlderThan)); err != nil {
						logging.Default().Error("scheduled archive sweep failed", "error", err)
					}
				})
				if err != nil {
					return goerr.Wrap(err, "invalid archive schedule", goerr.V("schedule", archiveSchedule))
				}
				scheduler.Start()
				defer scheduler.Stop()
			}

			return server.New(addr, uc).Run(ctx)
		},
	}
}
