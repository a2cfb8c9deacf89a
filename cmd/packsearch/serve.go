package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dshills/packsearch/internal/app"
	"github.com/dshills/packsearch/internal/mcp"
	"github.com/dshills/packsearch/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	slog.Info("packsearch MCP server starting",
		slog.String("version", version),
		slog.String("build_mode", storage.BuildMode),
		slog.String("driver", storage.DriverName))

	return withApp(ctx, func(a *app.App) error {
		server := mcp.NewServer(a)
		slog.Info("MCP server ready, listening on stdio")

		err := server.Serve(ctx)
		if errors.Is(err, context.Canceled) {
			slog.Info("shutting down gracefully")
			return nil
		}
		if err != nil {
			return err
		}
		slog.Info("server stopped")
		return nil
	})
}
