package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd(flags *rootFlags) *cobra.Command {
	var email, password string
	var admin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store credentials for later commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := newEngine(flags)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if admin {
				cred, err := engine.API().AdminLogin(ctx, email, password)
				if err != nil {
					return err
				}
				engine.Store().Set(cred)
				fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (admin)\n", cred.Identity.UserID)
				return nil
			}

			cred, err := engine.Login(ctx, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", cred.Identity.UserID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&admin, "admin", false, "use the elevated login endpoint")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
