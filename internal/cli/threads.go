package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yymmt/bbs-test/internal/client"
)

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func NewThreadsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List threads you belong to, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			threads, err := s.Threads(cmd.Context())
			if err != nil {
				return opts.explain(err)
			}
			var b strings.Builder
			for _, t := range threads {
				fmt.Fprintf(&b, "%6d  %-30s  %s\n", t.ID, t.Title, humanize.Time(t.UpdatedAt))
			}
			if len(threads) == 0 {
				b.WriteString("no threads\n")
			}
			return opts.emit(threads, strings.TrimSuffix(b.String(), "\n"))
		},
	}
}

// NewThreadCommand groups the thread management subcommands.
func NewThreadCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Create and manage threads",
	}
	cmd.AddCommand(newThreadCreateCommand(opts))
	cmd.AddCommand(newThreadSettingsCommand(opts))
	cmd.AddCommand(newThreadRenameCommand(opts))
	cmd.AddCommand(newThreadMemberCommand(opts, "add", "Add a member to a thread"))
	cmd.AddCommand(newThreadMemberCommand(opts, "remove", "Remove a member from a thread"))
	return cmd
}

func newThreadCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <title>",
		Short: "Create a thread with yourself as the only member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			id, err := s.CreateThread(cmd.Context(), args[0])
			if err != nil {
				return opts.explain(err)
			}
			return opts.emit(map[string]int64{"thread_id": id}, fmt.Sprintf("created thread %d", id))
		},
	}
}

func newThreadSettingsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "settings <thread-id>",
		Short: "Show a thread's title, members and candidates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			settings, err := s.ThreadSettings(cmd.Context(), threadID)
			if err != nil {
				return opts.explain(err)
			}
			return opts.emit(settings, formatSettings(settings))
		},
	}
}

func formatSettings(settings client.ThreadSettings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "title: %s\n", settings.Title)
	b.WriteString("members:\n")
	for _, u := range settings.Members {
		fmt.Fprintf(&b, "  %s  %s\n", u.UUID, u.Name)
	}
	b.WriteString("candidates:\n")
	for _, u := range settings.Candidates {
		fmt.Fprintf(&b, "  %s  %s\n", u.UUID, u.Name)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func newThreadRenameCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <thread-id> <title>",
		Short: "Change a thread's title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.UpdateThreadTitle(cmd.Context(), threadID, args[1]); err != nil {
				return opts.explain(err)
			}
			return opts.emit(map[string]bool{"success": true}, "renamed")
		},
	}
}

func newThreadMemberCommand(opts *RootOptions, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <thread-id> <user-uuid>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			if verb == "add" {
				err = s.AddThreadMember(cmd.Context(), threadID, args[1])
			} else {
				err = s.RemoveThreadMember(cmd.Context(), threadID, args[1])
			}
			if err != nil {
				return opts.explain(err)
			}
			return opts.emit(map[string]bool{"success": true}, verb+" ok")
		},
	}
}

func NewInviteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invite <thread-id>",
		Short: "Issue an invite link for a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			invite, err := s.GenerateInviteToken(cmd.Context(), threadID)
			if err != nil {
				return opts.explain(err)
			}
			text := fmt.Sprintf("bbs join %d %s  (expires %s)", threadID, invite.Token, humanize.Time(invite.ExpiresAt))
			return opts.emit(invite, text)
		},
	}
}

func NewJoinCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "join <thread-id> <token>",
		Short: "Join a thread with an invite token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.JoinWithInvite(cmd.Context(), threadID, args[1]); err != nil {
				return opts.explain(err)
			}
			return opts.emit(map[string]bool{"success": true}, fmt.Sprintf("joined thread %d", threadID))
		},
	}
}
