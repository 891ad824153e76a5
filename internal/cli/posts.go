package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yymmt/bbs-test/internal/cache"
	"github.com/yymmt/bbs-test/internal/syncview"
)

// NewReadCommand prints a thread through the cached sync view.
func NewReadCommand(opts *RootOptions) *cobra.Command {
	var older int

	cmd := &cobra.Command{
		Use:   "read <thread-id>",
		Short: "Show the latest posts of a thread",
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
			c, err := cache.Open(opts.clientConfig().CacheDir())
			if err != nil {
				return err
			}
			defer c.Close()

			view := syncview.New(threadID, s, c, &screen{out: cmd.OutOrStdout()})
			if err := view.Open(cmd.Context()); err != nil {
				return opts.explain(err)
			}
			defer view.Close()
			for i := 0; i < older && view.HasMore(); i++ {
				if err := view.LoadOlder(cmd.Context()); err != nil {
					return opts.explain(err)
				}
			}

			items := view.Items()
			text := formatItems(items)
			if !view.HasMore() || len(items) < view.Limit {
				text = "(beginning of thread)\n" + text
			}
			return opts.emit(itemsJSON(items), text)
		},
	}

	cmd.Flags().IntVar(&older, "older", 0, "also load this many pages of older posts")

	return cmd
}

func NewPostCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "post <thread-id> <body...>",
		Short: "Write a post",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			id, err := s.CreatePost(cmd.Context(), threadID, strings.Join(args[1:], " "))
			if err != nil {
				return opts.explain(err)
			}
			return opts.emit(map[string]int64{"post_id": id}, fmt.Sprintf("posted #%d", id))
		},
	}
}

func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <post-id>",
		Short: "Delete one of your posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := opts.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.DeletePost(cmd.Context(), postID); err != nil {
				return opts.explain(err)
			}
			c, err := cache.Open(opts.clientConfig().CacheDir())
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.DeletePost(0, postID); err != nil {
				return err
			}
			return opts.emit(map[string]bool{"success": true}, fmt.Sprintf("deleted #%d", postID))
		},
	}
}

func NewSummarizeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <thread-id>",
		Short: "Ask the assistant to summarise recent posts into the thread",
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
			id, err := s.SummarizeThread(cmd.Context(), threadID)
			if err != nil {
				return opts.explain(err)
			}
			return opts.emit(map[string]int64{"post_id": id}, fmt.Sprintf("summary posted as #%d", id))
		},
	}
}
