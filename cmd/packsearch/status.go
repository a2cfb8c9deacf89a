package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/packsearch/internal/app"
)

var flagStatusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mode, index size and pack state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&flagStatusJSON, "json", false, "Print status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(a *app.App) error {
		st := a.Status()
		if flagStatusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		fmt.Printf("Mode:          %s\n", st.Mode)
		fmt.Printf("Model:         %s\n", st.ModelKey)
		if st.LocalModel != "" {
			fmt.Printf("Local model:   %s (downloaded: %s)\n", st.LocalModel, yesNo(st.LocalModelDownloaded))
		}
		fmt.Printf("Packs:         %d enabled of %d\n", st.EnabledPacks, len(st.Packs))
		fmt.Printf("Index entries: %d\n", st.Entries)
		if !st.IndexLoadedAt.IsZero() {
			fmt.Printf("Loaded at:     %s\n", st.IndexLoadedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	})
}
