package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/auth"
	"github.com/spf13/cobra"
)

func (c *cli) newLoginCmd() *cobra.Command {
	var s auth.Session
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "login --token <token>",
		Short: "Store a session issued by the identity provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if s.Token == "" {
				return errors.New("--token is required")
			}
			if ttl < 0 {
				return errors.New("--expires-in cannot be negative")
			}
			if ttl > 0 {
				s.ExpiresAt = time.Now().Add(ttl).UTC()
			}

			ctx := cmd.Context()
			rt := c.newRuntime()
			sessions, err := rt.openSessions(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

			if err := sessions.Login(ctx, s); err != nil {
				return err
			}
			st, err := sessions.Await(ctx)
			if err != nil {
				return err
			}
			if st.Error != nil {
				return st.Error
			}
			return describeSession(cmd, st)
		},
	}
	cmd.Flags().StringVar(&s.Token, "token", "", "bearer token of the session")
	cmd.Flags().StringVar(&s.UserID, "user", "", "user the session belongs to")
	cmd.Flags().StringSliceVar(&s.Roles, "role", nil, "role granted to the session; repeat for several roles")
	cmd.Flags().DurationVar(&ttl, "expires-in", 0, "session lifetime; zero never expires")
	return cmd
}

func (c *cli) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session and clear cached records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt := c.newRuntime()
			app, err := rt.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

			if err := app.Logout(ctx); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return err
		},
	}
}

func describeSession(cmd *cobra.Command, st auth.State) error {
	w := cmd.OutOrStdout()
	if st.Session == nil {
		_, err := fmt.Fprintln(w, "Not signed in.")
		return err
	}
	user := st.Session.UserID
	if user == "" {
		user = "unknown user"
	}
	if _, err := fmt.Fprintf(w, "Signed in as %s.\n", user); err != nil {
		return err
	}
	if !st.Session.CanEdit() {
		_, err := fmt.Fprintln(w, "This session can read records but not edit them.")
		return err
	}
	return nil
}
