package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/maltedev/stock-alert-bot/internal/checker"
	"github.com/maltedev/stock-alert-bot/internal/models"
)

var (
	checkStore    string
	checkStrategy string
)

func init() {
	checkCmd.Flags().StringVar(&checkStore, "store", "", "store name used to pick the profile (defaults to the url host)")
	checkCmd.Flags().StringVar(&checkStrategy, "strategy", "", "fetch strategy: playwright, rod or static (defaults to FETCH_STRATEGY)")
	rootCmd.AddCommand(checkCmd)
}

type checkReport struct {
	URL      string             `json:"url"`
	Store    string             `json:"store"`
	Result   models.StockResult `json:"result"`
	Status   string             `json:"status"`
	Attempts int                `json:"attempts"`
	Error    string             `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Checks one product page once and prints the result as JSON. Nothing is persisted or sent.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := checkTarget(args[0])
		if err != nil {
			return err
		}

		strategy := checkStrategy
		if strategy == "" {
			strategy = cfg.Fetcher.Strategy
		}
		ctrl, closer, err := newChecker(cfg, strategy)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Monitor.ItemTimeout)
		defer cancel()

		res := ctrl.Check(ctx, target)
		report := checkReport{
			URL:      target.URL,
			Store:    target.Store.Name,
			Result:   res.StockResult,
			Status:   models.CheckOutcome{Result: res.StockResult}.StatusText(),
			Attempts: res.Attempts,
		}
		if res.Err != nil {
			report.Error = res.Err.Error()
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// checkTarget resolves the store from the configuration file when it is
// known there, otherwise the url origin stands in for it.
func checkTarget(raw string) (checker.Target, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return checker.Target{}, fmt.Errorf("%q is not a valid url", raw)
	}

	store := models.Store{Name: checkStore, BaseURL: u.Scheme + "://" + u.Host}
	if checkStore != "" {
		if cs, err := openStore(); err == nil {
			if known, ok := cs.Store(checkStore); ok {
				store = known
			}
		}
	} else {
		store.Name = u.Hostname()
	}
	return checker.Target{Item: raw, Store: store, URL: raw}, nil
}
