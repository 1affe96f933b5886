package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskboard",
		Short: "Personal task board with live updates",
		Long: `taskboard serves a personal task board and manages its tasks from the shell.

CONFIGURATION:
  PUBLIC_URL                   Origin used in share links (required)
  STORE_BACKEND                tables (default) or memory
  STORAGE_CONNECTION_STRING    Table storage connection string
  TASKS_TABLE                  Tasks table name (default: tasks)
  REDIS_CONNECTION_STRING      Redis for change feed and snapshot cache
  SNAPSHOT_CACHE_TTL           Snapshot cache TTL (default: 10m, 0 disables)
  AUTH_DOMAIN, AUTH_AUDIENCE   Token issuer and audience
  LOCAL_AUTH_MODE=hs256        Sign sessions with LOCAL_AUTH_SHARED_SECRET
  LISTEN_PORT                  HTTP port (default: 8080)
  DEBUG                        Verbose logging
  TASKBOARD_TOKEN              Session token for the tasks commands`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			return a.configure()
		},
	}
	root.PersistentFlags().StringVar(&a.token, "token", "", "session token (overrides TASKBOARD_TOKEN)")

	root.AddCommand(
		newServeCommand(a),
		newInitStorageCommand(a),
		newTokenCommand(a),
		newTasksCommand(a),
	)
	return root
}
