package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"taskboard/session"
)

func newTokenCommand(a *app) *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a session token for local auth mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.LocalAuth() {
				return errors.New("token requires LOCAL_AUTH_MODE=hs256")
			}
			tok, err := session.LocalToken([]byte(a.cfg.LocalAuthSecret), email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "identity to sign the token for")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
