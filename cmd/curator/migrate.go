package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/docutag/curator/db"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSchema(ctx, func(database *db.DB) error {
				if err := db.Migrate(database.DB()); err != nil {
					return err
				}
				return printMigrationStatus(cmd, database)
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSchema(ctx, func(database *db.DB) error {
				return printMigrationStatus(cmd, database)
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "rollback",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSchema(ctx, func(database *db.DB) error {
				m, err := db.Rollback(database.DB())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back migration %d (%s)\n", m.Version, m.Name)
				return nil
			})
		},
	})

	return migrateCmd
}

// withSchema opens the database without applying migrations
func withSchema(ctx *commandContext, fn func(*db.DB) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	database, err := openDB(cfg, true)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(database)
}

func printMigrationStatus(cmd *cobra.Command, database *db.DB) error {
	status, err := db.GetMigrationStatus(database.DB())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderMigrationStatus(status))
	return nil
}

func renderMigrationStatus(status []db.MigrationStatus) string {
	rows := make([][]string, 0, len(status))
	for _, m := range status {
		rows = append(rows, []string{strconv.Itoa(m.Version), m.Name, yesNo(m.Applied)})
	}
	return renderTable([]string{"Version", "Name", "Applied"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft})
}
