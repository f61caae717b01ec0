package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List available strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		registry, err := cfg.StrategyRegistry(log)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tINDICATORS\tMIN CONF\tSL%\tTP%\tRISK%\tDESCRIPTION")
		for _, d := range registry.All() {
			inds := "all"
			if len(d.Indicators) > 0 {
				names := make([]string, len(d.Indicators))
				for i, n := range d.Indicators {
					names[i] = n.String()
				}
				inds = strings.Join(names, ",")
			}
			fmt.Fprintf(tw, "%s\t%s\t%.0f\t%.1f\t%.1f\t%.1f\t%s\n",
				d.Name, inds, d.Rules.MinConfidence,
				d.Risk.StopLossPercent, d.Risk.TakeProfitPercent, d.Risk.RiskPerTradePercent,
				d.Description)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		for _, symbol := range cfg.Trading.Symbols {
			d, err := registry.ForSymbol(strings.ToUpper(symbol))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", strings.ToUpper(symbol), d.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}
