package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/btouchard/courier/internal/notify"
	"github.com/btouchard/courier/internal/subscriber"
)

func listenCmd() *cobra.Command {
	var streamURL, token string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print notifications from a stream until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			s, err := subscriber.Dial(ctx, streamURL,
				subscriber.WithToken(token),
				subscriber.WithOnEvent(printEvent),
			)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			<-s.Done()
			if err := s.Err(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&streamURL, "url", "http://127.0.0.1:8440/resources/notifications/stream", "notification stream URL")
	cmd.Flags().StringVar(&token, "token", "", "session token (see courier token)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func printEvent(ev notify.Event) {
	p := ev.Payload()
	switch ev.Kind() {
	case notify.KindInviteOffered:
		msg := ""
		if p.Message != "" {
			msg = fmt.Sprintf(": %q", p.Message)
		}
		fmt.Printf("%s invited you to a game (%s)%s\n", p.FromUsername, p.ID, msg)
	case notify.KindInviteAccepted:
		fmt.Printf("%s accepted your invite (%s)\n", p.FromUsername, p.ID)
	case notify.KindInviteDeclined:
		fmt.Printf("%s declined your invite (%s)\n", p.FromUsername, p.ID)
	}
}
