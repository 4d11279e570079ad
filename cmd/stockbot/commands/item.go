package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	itemCmd.AddCommand(itemAddCmd, itemRemoveCmd, itemListCmd)
	rootCmd.AddCommand(itemCmd)
}

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manages the monitored items in the configuration file.",
	Long:  "Manages the monitored items in the configuration file.\n\n" + offlineNote,
}

var itemAddCmd = &cobra.Command{
	Use:   "add <name> <url> <store>",
	Short: "Adds an item to an existing store.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := openStore()
		if err != nil {
			return err
		}
		if err := cs.AddItem(args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Item %s added to %s.\n", args[0], args[2])
		return nil
	},
}

var itemRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Removes an item.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := openStore()
		if err != nil {
			return err
		}
		if err := cs.RemoveItem(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Item %s removed.\n", args[0])
		return nil
	},
}

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists items with their last known status.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := openStore()
		if err != nil {
			return err
		}
		items := cs.Items()
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No items configured.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STORE\tITEM\tSTATUS\tURL")
		for _, it := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.Store, it.Name, it.StatusText(), it.URL)
		}
		return tw.Flush()
	},
}
