package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/mneme/pkg/service/mcp"
	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

func mcpCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Flags: allFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return mcp.New(uc, version).Run(ctx)
		},
	}
}
