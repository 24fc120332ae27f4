package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sakif/proteeti/internal/auth"
	"github.com/sakif/proteeti/internal/service"
)

// passwordEnv lets scripts pass a password without it showing up in ps.
const passwordEnv = "PROTEETI_ADMIN_PASSWORD"

// NewAdminCommand groups the admin account commands.
func NewAdminCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage dashboard admins",
		Long: `Admin account management. Useful for creating the first admin on a
headless deployment or recovering a locked-out one.

Examples:
  proteetictl admin list
  PROTEETI_ADMIN_PASSWORD=... proteetictl admin create alice
  proteetictl admin reset-password alice --password '...'`,
	}

	cmd.AddCommand(newAdminListCommand(opts))
	cmd.AddCommand(newAdminCreateCommand(opts))
	cmd.AddCommand(newAdminResetCommand(opts))

	return cmd
}

func newAdminListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List admins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			admins, err := db.ListAdmins(cmd.Context())
			if err != nil {
				return err
			}

			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), admins)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSERNAME\tCREATED")
			for _, a := range admins {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", a.ID, a.Username, a.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func newAdminCreateCommand(opts *RootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := resolvePassword(password)
			if err != nil {
				return err
			}

			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			admins := service.NewAdminService(db, db, auth.NewPasswordService(), newLogger(opts))
			a, err := admins.Create(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (id %d)\n", a.Username, a.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "admin password (or set "+passwordEnv+")")
	return cmd
}

func newAdminResetCommand(opts *RootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "reset-password <username>",
		Short: "Set an admin's password without the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := resolvePassword(password)
			if err != nil {
				return err
			}

			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			admins := service.NewAdminService(db, db, auth.NewPasswordService(), newLogger(opts))
			if _, err := admins.ResetPassword(cmd.Context(), args[0], pw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password reset for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "new password (or set "+passwordEnv+")")
	return cmd
}

func resolvePassword(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	return "", errors.New("password required: use --password or " + passwordEnv)
}
