package commands

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(profilesCmd)
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Lists the store profiles and which one each configured store resolves to.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := newRegistry(cfg)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROFILE\tKIND\tHOSTS\tATTEMPTS")
		for _, p := range registry.Profiles() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Kind, strings.Join(p.Hosts, ","), attemptsLabel(p.MaxAttempts))
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		cs, err := openStore()
		if err != nil {
			return err
		}
		stores := cs.Stores()
		if len(stores) == 0 {
			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout())
		tw = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STORE\tPROFILE")
		for _, s := range stores {
			fmt.Fprintf(tw, "%s\t%s\n", s.Name, registry.Resolve(s).Name)
		}
		return tw.Flush()
	},
}

func attemptsLabel(n int) string {
	if n == 0 {
		return fmt.Sprintf("default (%d)", cfg.Monitor.MaxAttempts)
	}
	return strconv.Itoa(n)
}
