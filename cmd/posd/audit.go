package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/pos-engine/pos"
)

var errDiscrepancies = errors.New("ledger discrepancies found")

func newAuditCmd() *cobra.Command {
	var shopID, dsn string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check that every tracked product's quantity matches its ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dsn != "" {
				cfg.DBDSN = dsn
			}

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			engine := pos.NewEngine(store)
			discrepancies, err := engine.AuditLedger(cmd.Context(), pos.ShopID(shopID))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(discrepancies) == 0 {
				fmt.Fprintf(out, "shop %s: ledger consistent\n", shopID)
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRODUCT\tNAME\tQUANTITY\tLEDGER\tDRIFT")
			for _, d := range discrepancies {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%+d\n", d.ProductID, d.ProductName, d.Quantity, d.LedgerTotal, d.Drift())
			}
			tw.Flush()

			fmt.Fprintf(os.Stderr, "%d product(s) disagree with the ledger\n", len(discrepancies))
			return errDiscrepancies
		},
	}

	cmd.Flags().StringVar(&shopID, "shop", "", "shop ID to audit")
	cmd.Flags().StringVar(&dsn, "dsn", "", "database DSN (overrides POS_DB_DSN)")
	_ = cmd.MarkFlagRequired("shop")
	return cmd
}
