package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup <channel id>",
	Short: "Sets the channel that receives stock alerts.",
	Long:  "Sets the channel that receives stock alerts.\n\n" + offlineNote,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := openStore()
		if err != nil {
			return err
		}
		if err := cs.SetChannel(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Alerts will be posted to channel %s.\n", args[0])
		return nil
	},
}
