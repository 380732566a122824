package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dormitory-access-backend/internal/schedule"
	"dormitory-access-backend/internal/store"
)

func newSweepCommand(opts *rootOptions) *cobra.Command {
	var dormID int64
	cmd := &cobra.Command{
		Use:          "sweep",
		Short:        "Re-enroll residents on their dormitory's devices once",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if dormID != 0 {
				result, err := a.residents.SyncDormitory(ctx, store.Admin, dormID)
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
				return err
			}

			sched, err := schedule.NewService("", a.store, a.residents, a.log.Named("schedule"))
			if err != nil {
				return err
			}
			return enc.Encode(sched.SweepOnce(ctx))
		},
	}
	cmd.Flags().Int64Var(&dormID, "dormitory", 0, "sweep only this dormitory")
	return cmd
}
