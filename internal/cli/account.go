package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yymmt/bbs-test/internal/client"
)

func NewWhoamiCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored identity and its display name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			name, err := s.UserName(cmd.Context())
			if err != nil {
				return opts.explain(err)
			}
			text := fmt.Sprintf("%s (%s)", s.Identity(), name)
			if name == "" {
				text = s.Identity() + " (unregistered)"
			}
			return opts.emit(map[string]string{"user_uuid": s.Identity(), "name": name}, text)
		},
	}
}

func NewRegisterCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <name>",
		Short: "Register a display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.RegisterUser(cmd.Context(), args[0]); err != nil {
				return opts.explain(err)
			}
			return opts.emit(map[string]bool{"success": true}, "registered as "+args[0])
		},
	}
}

func NewRenameCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <name>",
		Short: "Change the display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.UpdateUser(cmd.Context(), args[0]); err != nil {
				return opts.explain(err)
			}
			return opts.emit(map[string]bool{"success": true}, "renamed to "+args[0])
		},
	}
}

// NewTransferCommand moves an identity to another device.
func NewTransferCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move this identity to another device",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "issue",
		Short: "Issue a short-lived transfer code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			code, err := s.GenerateTransferCode(cmd.Context())
			if err != nil {
				return opts.explain(err)
			}
			return opts.emit(code, fmt.Sprintf("%s (expires %s)", code.Code, humanize.Time(code.ExpireAt)))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "claim <code>",
		Short: "Adopt the identity behind a transfer code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			owner, err := s.CheckTransferCode(cmd.Context(), args[0])
			if err != nil {
				return opts.explain(err)
			}
			if err := client.AdoptIdentity(opts.clientConfig().IdentityPath(), owner); err != nil {
				return err
			}
			return opts.emit(map[string]string{"user_uuid": owner}, "now acting as "+owner)
		},
	})

	return cmd
}

func NewSubscribeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <endpoint> <p256dh> <auth>",
		Short: "Register a web push subscription for this identity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			if s.VAPIDPublicKey() == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: server has push disabled")
			}
			if err := s.RegisterSubscription(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return opts.explain(err)
			}
			return opts.emit(map[string]bool{"success": true}, "subscribed")
		},
	}
}
