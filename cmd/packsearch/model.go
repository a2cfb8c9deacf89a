package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/packsearch/internal/app"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage local embedding models",
}

var modelDownloadCmd = &cobra.Command{
	Use:   "download [name]",
	Short: "Download a local model, default the configured one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := optionalArg(args)
		return withApp(cmd.Context(), func(a *app.App) error {
			if err := a.DownloadModel(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Println("model downloaded")
			return nil
		})
	},
}

var modelLoadCmd = &cobra.Command{
	Use:   "load [name]",
	Short: "Check that a downloaded local model loads",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := optionalArg(args)
		return withApp(cmd.Context(), func(a *app.App) error {
			if err := a.LoadModel(name); err != nil {
				return err
			}
			fmt.Println("model loaded")
			return nil
		})
	},
}

var modeCmd = &cobra.Command{
	Use:   "mode <remote|local> [model]",
	Short: "Switch the embedding mode and persist it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		model := ""
		if len(args) == 2 {
			model = args[1]
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			if err := a.SetMode(cmd.Context(), args[0], model); err != nil {
				return err
			}
			st := a.Status()
			fmt.Printf("mode %s, model %s, %d cached entries\n", st.Mode, st.ModelKey, st.Entries)
			return nil
		})
	},
}

func init() {
	modelCmd.AddCommand(modelDownloadCmd, modelLoadCmd)
	rootCmd.AddCommand(modelCmd, modeCmd)
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
