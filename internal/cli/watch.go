package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yymmt/bbs-test/internal/cache"
	"github.com/yymmt/bbs-test/internal/notify"
	"github.com/yymmt/bbs-test/internal/push"
	"github.com/yymmt/bbs-test/internal/syncview"
)

// window adapts an open view to notify.Foreground.
type window struct {
	*syncview.View
	out io.Writer
}

func (w window) Navigate(url string) {
	fmt.Fprintf(w.out, "navigate %s\n", url)
}

type terminalNotifier struct{ out io.Writer }

func (n terminalNotifier) Show(_ context.Context, note notify.Notification) error {
	_, err := fmt.Fprintf(n.out, "[notification] %s: %s (%s)\n", note.Title, note.Body, note.URL)
	return err
}

type terminalOpener struct{ out io.Writer }

func (o terminalOpener) Open(_ context.Context, url string) error {
	_, err := fmt.Fprintf(o.out, "open %s\n", url)
	return err
}

// NewWatchCommand keeps a thread open and feeds push payloads read from
// stdin, one JSON object per line, through the delivery worker. A line
// "click [url]" simulates activating a notification.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var hidden bool

	cmd := &cobra.Command{
		Use:   "watch <thread-id>",
		Short: "Keep a thread open and process push payloads from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := opts.session(ctx)
			if err != nil {
				return err
			}
			c, err := cache.Open(opts.clientConfig().CacheDir())
			if err != nil {
				return err
			}
			defer c.Close()

			out := &lockedWriter{w: cmd.OutOrStdout()}
			view := syncview.New(threadID, s, c, &screen{out: out, live: true})
			if err := view.Open(ctx); err != nil {
				return opts.explain(err)
			}
			defer view.Close()
			view.SetVisible(!hidden)

			worker := notify.NewWorker(notify.NewHub(), c, terminalNotifier{out: out}, terminalOpener{out: out})
			_, unregister := worker.Hub.Register(window{View: view, out: out})
			defer unregister()

			return watchLoop(ctx, cmd.InOrStdin(), worker, view)
		},
	}

	cmd.Flags().BoolVar(&hidden, "hidden", false, "treat the window as hidden so pushes for this thread are shown")

	return cmd
}

func watchLoop(ctx context.Context, in io.Reader, worker *notify.Worker, view *syncview.View) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "click" || strings.HasPrefix(line, "click "):
			if err := worker.HandleClick(ctx, strings.TrimSpace(strings.TrimPrefix(line, "click"))); err != nil {
				return err
			}
			continue
		}

		var p push.Payload
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			slog.Warn("skipping malformed push payload", "error", err)
			continue
		}
		outcome, err := worker.HandlePush(ctx, p)
		if err != nil {
			slog.Error("push handling failed", "type", p.Type, "thread_id", p.ThreadID, "error", err)
			continue
		}
		// The open thread swallowed the notification, so pull the new post in.
		if outcome == notify.Suppressed && p.ThreadID == view.ThreadID {
			if err := view.Open(ctx); err != nil {
				slog.Warn("refresh after push failed", "thread_id", p.ThreadID, "error", err)
			}
		}
	}
	return scanner.Err()
}
