package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/packsearch/internal/app"
	"github.com/dshills/packsearch/pkg/types"
)

var flagBuildPack string

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed new images of the enabled packs for the active model",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&flagBuildPack, "pack", "", "Build only this pack id, enabled or not")
	rootCmd.AddCommand(buildCmd)
}

// progressLine rewrites one stderr line per update
func progressLine(prefix string, done, total int) {
	fmt.Fprintf(os.Stderr, "\r%s %d/%d", prefix, done, total)
	if done == total {
		fmt.Fprintln(os.Stderr)
	}
}

func runBuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app.App) error {
		if flagBuildPack != "" {
			result, err := a.BuildPack(ctx, flagBuildPack, func(done, total int) {
				progressLine(flagBuildPack, done, total)
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d new files, %d embedded, %d entries\n",
				result.PackID, result.NewFiles, result.Success, result.Total)
			for _, e := range result.Errors {
				fmt.Fprintf(os.Stderr, "  %s\n", e.Error())
			}
			return nil
		}

		summary, err := a.BuildAll(ctx, func(i, n int, pack *types.ResourcePack, done, total int) {
			progressLine(fmt.Sprintf("[%d/%d] %s", i+1, n, pack.Name), done, total)
		})
		if err != nil {
			return err
		}
		fmt.Println(summary.Message())
		if len(summary.Failures) > 0 {
			return fmt.Errorf("%d of %d packs failed", len(summary.Failures), len(summary.Failures)+summary.Succeeded())
		}
		return nil
	})
}
