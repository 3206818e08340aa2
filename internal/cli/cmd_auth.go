package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newRegisterCommand(out io.Writer, configPath *string) *cobra.Command {
	var password, fullName string

	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Register a new user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			ok, err := rt.auth.Register(cmd.Context(), args[0], password, fullName)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("username %q already exists", args[0])
			}
			_, err = fmt.Fprintf(out, "registered %s\n", args[0])
			return err
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password for the new account")
	cmd.Flags().StringVar(&fullName, "full-name", "", "Optional full name")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newVerifyCommand(out io.Writer, configPath *string) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "verify <username>",
		Short: "Check a username/password pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			ok, err := rt.auth.VerifyCredentials(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("invalid credentials")
			}
			_, err = fmt.Fprintln(out, "ok")
			return err
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password to verify")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// login verifies the credentials and then exercises the session lifecycle:
// issue, validate, and report the token. Sessions are in-memory, so the
// token is only meaningful to a long-running embedder; for the CLI this is
// an end-to-end smoke check.
func newLoginCommand(out io.Writer, configPath *string) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Verify credentials and issue a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			ok, err := rt.auth.VerifyCredentials(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("invalid credentials")
			}

			token, err := rt.sessions.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			userID, valid := rt.sessions.Validate(token)
			if !valid {
				return fmt.Errorf("issued session failed validation")
			}
			_, err = fmt.Fprintf(out, "user_id=%d token=%s\n", userID, token)
			return err
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password to verify")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
