package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	storeCmd.AddCommand(storeAddCmd, storeRemoveCmd, storeListCmd)
	rootCmd.AddCommand(storeCmd)
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manages the stores in the configuration file.",
	Long:  "Manages the stores in the configuration file.\n\n" + offlineNote,
}

// offlineNote is appended to the help of commands that edit the configuration
// file directly. A running serve keeps its own copy and writes it back.
const offlineNote = `These commands edit the configuration file directly. Stop "stockbot serve"
first, or use the admin API (/api/v1/setup, /api/v1/stores, /api/v1/items)
while it is running: serve keeps the configuration in memory and its next
write replaces edits made here.`

var storeAddCmd = &cobra.Command{
	Use:   "add <name> <base url>",
	Short: "Adds a store.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := openStore()
		if err != nil {
			return err
		}
		if err := cs.AddStore(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Store %s added.\n", args[0])
		return nil
	},
}

var storeRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Removes a store together with every item that belongs to it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := openStore()
		if err != nil {
			return err
		}
		removed, err := cs.RemoveStore(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Store %s removed along with %d item(s).\n", args[0], len(removed))
		for _, name := range removed {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", name)
		}
		return nil
	},
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists stores.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := openStore()
		if err != nil {
			return err
		}
		stores := cs.Stores()
		if len(stores) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stores configured.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tURL")
		for _, s := range stores {
			fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.BaseURL)
		}
		return tw.Flush()
	},
}
