package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/packsearch/internal/app"
)

var packsCmd = &cobra.Command{
	Use:   "packs",
	Short: "List and toggle resource packs",
}

var packsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered resource packs",
	Args:  cobra.NoArgs,
	RunE:  runPacksList,
}

var packsEnableCmd = &cobra.Command{
	Use:   "enable <pack_id>",
	Short: "Enable a resource pack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPacksToggle(cmd, args[0], true)
	},
}

var packsDisableCmd = &cobra.Command{
	Use:   "disable <pack_id>",
	Short: "Disable a resource pack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPacksToggle(cmd, args[0], false)
	},
}

func init() {
	packsCmd.AddCommand(packsListCmd, packsEnableCmd, packsDisableCmd)
	rootCmd.AddCommand(packsCmd)
}

func runPacksList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(a *app.App) error {
		st := a.Status()
		if len(st.Packs) == 0 {
			fmt.Println("No resource packs found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tENABLED\tFILES\tCACHED\tREMOTE")
		for _, p := range st.Packs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				p.ID, p.Name, p.Version, yesNo(p.Enabled), p.Files, yesNo(p.CacheGenerated), yesNo(p.Remote))
		}
		return w.Flush()
	})
}

func runPacksToggle(cmd *cobra.Command, packID string, enable bool) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app.App) error {
		toggle, verb := a.DisablePack, "disabled"
		if enable {
			toggle, verb = a.EnablePack, "enabled"
		}
		changed, err := toggle(ctx, packID)
		if err != nil {
			return err
		}
		if !changed {
			fmt.Printf("%s already %s\n", packID, verb)
			return nil
		}
		fmt.Printf("%s %s\n", packID, verb)
		return nil
	})
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
