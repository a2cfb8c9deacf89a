package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/packsearch/internal/app"
	"github.com/dshills/packsearch/internal/searcher"
)

var (
	flagSearchK    int
	flagSearchJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find images whose labels match a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&flagSearchK, "top-k", "k", 0, "Number of results (default from config)")
	searchCmd.Flags().BoolVar(&flagSearchJSON, "json", false, "Print results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	return withApp(cmd.Context(), func(a *app.App) error {
		resp, err := a.Search(cmd.Context(), searcher.Request{Query: query, TopK: flagSearchK})
		if err != nil {
			return err
		}

		if flagSearchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp.Results)
		}

		if len(resp.Results) == 0 {
			if a.Snapshot().Empty() {
				fmt.Println("No cached images. Enable a pack and run 'packsearch build'.")
			} else {
				fmt.Println("No matching images.")
			}
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tSCORE\tLABEL\tPACK\tPATH")
		for _, r := range resp.Results {
			fmt.Fprintf(w, "%d\t%.3f\t%s\t%s\t%s\n", r.Rank, r.Score, r.Label, r.PackID, r.Path)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%d candidates, %d missing, %d duplicates, %s\n",
			resp.Candidates, resp.Missing, resp.Duplicates, resp.Duration.Round(time.Millisecond))
		return nil
	})
}
