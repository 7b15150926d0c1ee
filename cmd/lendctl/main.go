package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultPassEnv = "LEND_KEYSTORE_PASS"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "lendctl",
		Short:         "Operator tooling for the lending market daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newKeygenCommand(),
		newAddressCommand(),
		newTokenCommand(),
		newCheckMarketCommand(),
		newExportAuditCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
