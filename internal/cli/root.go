// Package cli implements the bbs command line client.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/yymmt/bbs-test/internal/client"
	"github.com/yymmt/bbs-test/internal/config"
	"github.com/yymmt/bbs-test/internal/i18n"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	APIURL string
	Home   string
	Lang   string
	Format string // "json" | "text"

	out io.Writer
}

// NewRootCommand creates the root command, with flag defaults taken from
// cfg.
func NewRootCommand(cfg config.Client) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "bbs",
		Short:         "Command line client for the bulletin board",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.out = cmd.OutOrStdout()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.APIURL, "api", cfg.APIURL, "action endpoint url")
	cmd.PersistentFlags().StringVar(&opts.Home, "home", cfg.Home, "directory holding identity and cache")
	cmd.PersistentFlags().StringVar(&opts.Lang, "lang", cfg.Lang, "message language (en|ja)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewWhoamiCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewRenameCommand(opts))
	cmd.AddCommand(NewThreadsCommand(opts))
	cmd.AddCommand(NewThreadCommand(opts))
	cmd.AddCommand(NewInviteCommand(opts))
	cmd.AddCommand(NewJoinCommand(opts))
	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewPostCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewSummarizeCommand(opts))
	cmd.AddCommand(NewTransferCommand(opts))
	cmd.AddCommand(NewSubscribeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func (o *RootOptions) clientConfig() config.Client {
	return config.Client{APIURL: o.APIURL, Home: o.Home, Lang: o.Lang}
}

func (o *RootOptions) language() language.Tag {
	return i18n.Match(o.Lang)
}

// session loads the stored identity and completes the anti-forgery
// handshake.
func (o *RootOptions) session(ctx context.Context) (*client.Session, error) {
	identity, err := client.LoadOrCreateIdentity(o.clientConfig().IdentityPath())
	if err != nil {
		return nil, err
	}
	s, err := client.NewSession(o.APIURL, identity, nil)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, o.explain(err)
	}
	return s, nil
}

// explain replaces a coded server error with its localised message.
func (o *RootOptions) explain(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s (%s)", i18n.Translate(o.language(), apiErr.Code), apiErr.Code)
	}
	return err
}

// emit prints v as JSON, or text when the text format is selected.
func (o *RootOptions) emit(v any, text string) error {
	if o.Format == "json" {
		enc := json.NewEncoder(o.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(o.out, text)
	return err
}
