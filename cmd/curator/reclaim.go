package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docutag/curator"
)

func newReclaimCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Fail items stuck in processing once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			database, err := openDB(cfg, false)
			if err != nil {
				return err
			}
			defer database.Close()

			var notifier curator.Notifier
			if cfg.Redis.URL != "" {
				bus, err := openBus(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer bus.Close()
				notifier = bus
			}

			n, err := curator.Reclaim(cmd.Context(), database, notifier, cfg.StaleAfter())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d stale item(s)\n", n)
			return nil
		},
	}
}
