package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dormitory-access-backend/internal/billing"
	"dormitory-access-backend/internal/store"
)

func newDebtCommand(opts *rootOptions) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:          "debt",
		Short:        "Print the debt portfolio of every dormitory",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.configPath)
			if err != nil {
				return err
			}
			defer a.close()

			horizon := billing.Horizon{Month: time.Month(a.cfg.Billing.CutoffMonth), Day: a.cfg.Billing.CutoffDay}
			at := horizon.AsOf(time.Now())
			if asOf != "" {
				if at, err = time.Parse("2006-01-02", asOf); err != nil {
					return fmt.Errorf("invalid --as-of %q: %w", asOf, err)
				}
			}

			ctx := context.Background()
			dorms, err := a.store.ListDormitories(ctx, store.Admin)
			if err != nil {
				return err
			}
			ids := make([]int64, len(dorms))
			for i, d := range dorms {
				ids[i] = d.ID
			}
			residents, err := a.store.ResidentsByDormitory(ctx, ids)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(billing.Portfolio(dorms, residents, at))
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluation date (YYYY-MM-DD); defaults to the next academic-year cutoff")
	return cmd
}
