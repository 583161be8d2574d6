package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/dakael7/gravitylabs/internal/agent"
	"github.com/dakael7/gravitylabs/internal/client"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/readstate"
	"github.com/dakael7/gravitylabs/internal/router"
	"github.com/dakael7/gravitylabs/internal/validation"
	"github.com/spf13/cobra"
)

var tailMarkRead bool

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().BoolVar(&tailMarkRead, "mark-read", false, "mark the conversation read and every message that arrives while tailing")
}

var tailCmd = &cobra.Command{
	Use:   "tail <conversation-key>",
	Short: "Follow a conversation live",
	Long:  "Print the conversation and stream new messages until interrupted. Missed messages are fetched again after a reconnect.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, cfg, err := getAPI()
		if err != nil {
			return err
		}
		key := validation.NormalizeConversationKey(args[0])
		self := models.Role(cfg.Auth.Role).SenderKind()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt := client.NewRealtime(cfg.Server.BaseURL, client.RealtimeConfig{Token: cfg.Auth.Token})
		filter := router.Conversation(key)
		// Offline commands are replayed on connect.
		if err := rt.Subscribe(ctx, filter); err != nil && !errors.Is(err, client.ErrNotConnected) {
			return err
		}

		view := newTailView(ctx, api, key, self, tailMarkRead)
		printer := newMessagePrinter(cmd.OutOrStdout(), view)

		runErr := make(chan error, 1)
		go func() { runErr <- rt.Run(ctx) }()

		if err := client.FollowConversation(ctx, api, rt.Envelopes(), view, printer.flush); err != nil && ctx.Err() == nil {
			return err
		}
		if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// newTailView builds the view tail renders. With markRead the conversation is
// marked read up front and each message from the other side is marked as it
// is printed; failed marks stay pending and are retried after each resync.
func newTailView(ctx context.Context, marker readstate.Marker, key string, self models.SenderKind, markRead bool) *agent.ConversationView {
	view := agent.NewConversationView(key, self)
	if markRead {
		rec := readstate.New(marker, self)
		view.SetReconciler(rec)
		rec.Open(ctx, key)
	}
	return view
}

// messagePrinter writes each confirmed message once, in order.
type messagePrinter struct {
	w       io.Writer
	view    *agent.ConversationView
	printed map[uint]bool
	staff   bool
}

func newMessagePrinter(w io.Writer, view *agent.ConversationView) *messagePrinter {
	return &messagePrinter{w: w, view: view, printed: make(map[uint]bool)}
}

func (p *messagePrinter) flush() {
	for _, m := range p.view.Messages() {
		if p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true
		name := m.SenderName
		if name == "" {
			name = string(m.SenderKind)
		}
		fmt.Fprintf(p.w, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.DateTime), name, preview(m.Body))
	}
	if online := p.view.StaffOnline(); online != p.staff {
		p.staff = online
		if online {
			fmt.Fprintln(p.w, "-- support is online")
		} else {
			fmt.Fprintln(p.w, "-- support went offline")
		}
	}
}
