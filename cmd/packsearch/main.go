// Command packsearch finds images in toggleable resource packs by the
// meaning of their file names, as a CLI or as an MCP server on stdio.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/packsearch/internal/app"
	"github.com/dshills/packsearch/internal/config"
	"github.com/dshills/packsearch/internal/embedder/gguf"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:          "packsearch",
	Short:        "Semantic image search over toggleable resource packs",
	SilenceUsage: true,
	Long: `packsearch embeds the labels in image file names of enabled resource
packs and returns the images that best match a natural language query.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(flagVerbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default $PACKSEARCH_CONFIG or ~/.packsearch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

// setupLogging sends structured logs to stderr. Stdout is reserved for
// command output and the MCP protocol.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// configPath returns the --config flag or the default location
func configPath() (string, error) {
	if flagConfig != "" {
		return config.ExpandPath(flagConfig)
	}
	return config.DefaultPath()
}

// openApp loads the config file and wires an App. The caller closes it.
func openApp(ctx context.Context) (*app.App, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	file, err := config.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load config %s: %w", path, err)
	}
	slog.Debug("config loaded", slog.String("path", file.Path()))
	return app.New(ctx, file, app.Options{LocalLoader: gguf.Load})
}

// withApp runs fn with a wired App and closes it afterwards
func withApp(ctx context.Context, fn func(*app.App) error) (err error) {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
