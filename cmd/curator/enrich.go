package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docutag/curator"
	"github.com/docutag/curator/models"
)

func newEnrichCommand(ctx *commandContext) *cobra.Command {
	var userID, rawURL, notes string

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Save a link for a user and enrich it immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("user", userID); err != nil {
				return err
			}
			if err := requireFlag("url", rawURL); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireModel(); err != nil {
				return err
			}

			runCtx, cancel := context.WithTimeout(cmd.Context(), cfg.ProcessTimeout())
			defer cancel()

			database, err := openDB(cfg, false)
			if err != nil {
				return err
			}
			defer database.Close()

			files, err := openStorage(runCtx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}

			p := newPipeline(cfg, database, files, newModelClient(cfg), nil)

			item := curator.NewPendingItem(userID, rawURL, notes)
			if err := database.CreateContent(runCtx, item); err != nil {
				return err
			}

			_, processErr := p.orchestrator.Process(runCtx, models.ProcessRequest{
				URL:       item.URL,
				UserID:    item.UserID,
				ContentID: item.ID,
			})

			saved, err := database.GetContent(cmd.Context(), item.UserID, item.ID)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd, saved); err != nil {
				return err
			}
			return processErr
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Owner of the new item")
	cmd.Flags().StringVar(&rawURL, "url", "", "Link to save")
	cmd.Flags().StringVar(&notes, "notes", "", "Optional notes stored with the item")
	return cmd
}
