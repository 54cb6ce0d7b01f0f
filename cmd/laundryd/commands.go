package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"laundry-branch-backend/config"
	"laundry-branch-backend/internal/db"
	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/store"
)

func migrateCmd(logger *log.Logger, loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and load the branch and catalog seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gormDB, err := db.Init(&cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			st := store.NewGormStore(gormDB)
			a := newApp(cfg, gormDB, st, event.LogSink{Logger: logger})
			if err := seed(cmd.Context(), cfg, a.store, a.registry); err != nil {
				return err
			}
			logger.Println("migration and seed complete")
			return nil
		},
	}
}

func sweepCmd(logger *log.Logger, loadConfig func() (*config.Config, error)) *cobra.Command {
	var branchIDs []int64

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep and reconcile pass and print what changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gormDB, err := db.Init(&cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			st := store.NewGormStore(gormDB)
			rec := &event.Recorder{}
			a := newApp(cfg, gormDB, st, event.Multi{rec, event.AuditSink{Store: st}})

			reports, err := a.runner.RunOnce(cmd.Context(), branchIDs...)
			if err != nil {
				logger.Printf("sweep finished with errors: %v", err)
			}
			return printJSON(cmd, map[string]any{
				"reports": reports,
				"events":  rec.Events(),
			})
		},
	}

	cmd.Flags().Int64SliceVar(&branchIDs, "branch", nil, "Branch IDs to sweep (default: all)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
