package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	var issuedAt string
	cmd := &cobra.Command{
		Use:   "login <token>",
		Short: "Store a bearer credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var issued time.Time
			if strings.TrimSpace(issuedAt) != "" {
				parsed, err := time.Parse(time.RFC3339, issuedAt)
				if err != nil {
					return fmt.Errorf("issued-at: %w", err)
				}
				issued = parsed
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			credential, err := rt.client.Login(cmd.Context(), args[0], issued)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in, credential issued at %s\n", credential.IssuedAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&issuedAt, "issued-at", "", "Issue time (RFC3339) when the token carries no iat claim")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored credential and keep cached content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newSessionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Report whether the stored credential is still valid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			fmt.Fprintln(cmd.OutOrStdout(), rt.client.SessionStatus(cmd.Context()))
			return nil
		},
	}
}
