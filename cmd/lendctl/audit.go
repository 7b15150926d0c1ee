package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lendmarket/services/lendingd/audit"
)

func newExportAuditCommand() *cobra.Command {
	var (
		dsn   string
		out   string
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export-audit",
		Short: "Export liquidation audit records to parquet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := audit.Open(dsn)
			if err != nil {
				return err
			}
			log, err := audit.New(db)
			if err != nil {
				return err
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			n, err := log.Export(cmd.Context(), out, from)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "Audit database DSN")
	cmd.Flags().StringVar(&out, "out", "audit.parquet", "Output parquet path")
	cmd.Flags().DurationVar(&since, "since", 0, "Only export records newer than this window")
	_ = cmd.MarkFlagRequired("dsn")
	return cmd
}
