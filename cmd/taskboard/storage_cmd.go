package main

import (
	"errors"

	"github.com/spf13/cobra"

	"taskboard/config"
	"taskboard/storage"
)

func newInitStorageCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the tasks table if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.StoreBackend != config.BackendTables {
				return errors.New("init-storage requires STORE_BACKEND=tables")
			}
			a.log.Info("storage init starting")
			if err := storage.InitTables(cmd.Context(), a.cfg.StorageConnectionString, []string{a.cfg.TasksTable}); err != nil {
				return err
			}
			a.log.Info("storage init complete")
			return nil
		},
	}
}
