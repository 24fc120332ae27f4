package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/proteeti/internal/notify"
)

// NewVAPIDCommand prints a fresh VAPID key pair for push.vapid_*_key.
func NewVAPIDCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for Web Push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			public, private, err := notify.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"vapid_public_key":  public,
					"vapid_private_key": private,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", public, private)
			return nil
		},
	}
}
