package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"lendmarket/native/lending"
)

func newCheckMarketCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-market <market.toml>",
		Short: "Validate a market genesis file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := lending.LoadMarketConfig(args[0])
			if err != nil {
				return err
			}
			params, err := cfg.Genesis()
			if err != nil {
				return fmt.Errorf("invalid market: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "base asset:   %s (%d decimals)\n", params.BaseAsset, params.BaseDecimals)
			fmt.Fprintf(out, "governance:   %s\n", params.Governance)
			fmt.Fprintf(out, "reserve:      %d\n", params.ReservePercentage)
			for _, c := range params.Collaterals {
				fmt.Fprintf(out, "collateral:   %s max_ltv=%d liq_ltv=%d discount=%d\n", c.Asset, c.MaxLTV, c.LiquidationLTV, c.LiquidationDiscount)
			}
			resources := make([]string, 0, len(params.Caps))
			for resource := range params.Caps {
				resources = append(resources, string(resource))
			}
			sort.Strings(resources)
			for _, resource := range resources {
				fmt.Fprintf(out, "cap:          %s factor=%d\n", resource, params.Caps[lending.CapResource(resource)].Factor)
			}
			return nil
		},
	}
}
