package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"taskboard/board"
	"taskboard/domain"
)

func newTasksCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Work with your tasks",
	}
	cmd.AddCommand(
		newTasksWatchCommand(a),
		newTasksAddCommand(a),
		newTasksRemoveCommand(a),
		newTasksShareCommand(a),
	)
	return cmd
}

// withBoard runs fn against a controller subscribed for the signed in user.
func (a *app) withBoard(ctx context.Context, fn func(*board.Controller) error) error {
	sess, closeSessions, err := a.session()
	if err != nil {
		return err
	}
	defer closeSessions()

	store, closeStore, err := a.openStore(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer closeStore()

	ctrl := board.New(store, board.Options{
		BaseURL:   a.cfg.PublicURL,
		Clipboard: a.clipboard,
		Notifier:  printNotifier{out: a.out},
		Logger:    a.log,
	})
	defer func() {
		if err := ctrl.Close(); err != nil {
			a.log.WithError(err).Warn("close board")
		}
	}()
	if err := ctrl.Initialize(ctx, sess.Email); err != nil {
		return err
	}
	return fn(ctrl)
}

func newTasksWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print your tasks every time they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.withBoard(ctx, func(ctrl *board.Controller) error {
				var last string
				for {
					select {
					case <-ctx.Done():
						return nil
					case st, ok := <-ctrl.Changes():
						if !ok {
							return nil
						}
						// Draft changes also publish; only print list changes.
						if out := formatTasks(st.Tasks); out != last {
							last = out
							fmt.Fprint(a.out, out)
						}
					}
				}
			})
		},
	}
}

func formatTasks(tasks []domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- %d task(s)\n", len(tasks))
	for _, t := range tasks {
		visibility := "private"
		if t.IsPublic {
			visibility = "public"
		}
		fmt.Fprintf(&b, "%s  %-7s  %s  %s\n", t.ID, visibility, t.CreatedAt.Local().Format("2006-01-02 15:04"), t.Text)
	}
	return b.String()
}

func newTasksAddCommand(a *app) *cobra.Command {
	var public bool
	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBoard(cmd.Context(), func(ctrl *board.Controller) error {
				ctrl.UpdateDraftText(strings.Join(args, " "))
				ctrl.UpdateDraftVisibility(public)
				err := ctrl.SubmitTask(cmd.Context())
				if errors.Is(err, board.ErrEmptyDraft) {
					return errors.New("task text is empty")
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&public, "public", false, "make the task visible through its share link")
	return cmd
}

func newTasksRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBoard(cmd.Context(), func(ctrl *board.Controller) error {
				return ctrl.DeleteTask(cmd.Context(), args[0])
			})
		},
	}
}

func newTasksShareCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "share <id>",
		Short: "Copy the public link of a task to the clipboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBoard(cmd.Context(), func(ctrl *board.Controller) error {
				link, err := ctrl.ShareTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, link)
				return nil
			})
		},
	}
}
