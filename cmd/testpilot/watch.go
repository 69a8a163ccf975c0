package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/testpilot/internal/messagebus"
)

func newWatchCommand() *cobra.Command {
	var consumer string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print pull request workflow events as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			mb, err := messagebus.NewNatsMessageBus(messagebus.Config{
				URL:          cfg.Messaging.NATSURL,
				StreamName:   cfg.Messaging.StreamName,
				Timeout:      cfg.Messaging.Timeout,
				ConsumerName: consumer,
			})
			if err != nil {
				return err
			}
			defer mb.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			events := make(chan *messagebus.PullRequestEvent, 64)
			if err := mb.SubscribePullRequests(func(e *messagebus.PullRequestEvent) {
				select {
				case events <- e:
				case <-ctx.Done():
				}
			}); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}

			for {
				select {
				case e := <-events:
					if err := enc.Encode(e); err != nil {
						return err
					}
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&consumer, "consumer", "testpilot-watch", "Durable consumer name")
	return cmd
}
