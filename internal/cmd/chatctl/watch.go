package chatctl

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"matchchat/internal/realtime"
)

func newWatchCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <conversation-id|me>",
		Short: "Follow a conversation or your conversation list",
		Long: "Prints a JSON snapshot on every change. In push mode the stream falls back to " +
			"polling while disconnected and reconciles after reconnecting.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			interval, _ := cmd.Flags().GetDuration("interval")
			strategy, err := realtime.ParseStrategy(mode)
			if err != nil {
				return err
			}

			var target realtime.Target
			if args[0] == "me" {
				target = realtime.UserTarget("")
			} else {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid conversation id: %w", err)
				}
				target = realtime.ConversationTarget(id)
			}

			c, err := flags.client()
			if err != nil {
				return err
			}
			log := flags.logger(cmd)

			enc := json.NewEncoder(cmd.OutOrStdout())
			feed, err := realtime.NewFeed(target, c, c.Source(), realtime.FeedOptions{
				Strategy:     strategy,
				PollInterval: interval,
				OnUpdate: func(s realtime.Snapshot) {
					if target.Kind == realtime.TargetConversation {
						_ = enc.Encode(s.Messages)
						return
					}
					_ = enc.Encode(s.Conversations)
				},
				OnState: func(s realtime.State) {
					log.Info("Feed state", "state", s.String())
				},
			}, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			feed.Start(ctx)
			<-ctx.Done()
			feed.Stop()
			return nil
		},
	}
	cmd.Flags().String("mode", string(realtime.StrategyPush), "Delivery strategy: push|poll")
	cmd.Flags().Duration("interval", realtime.DefaultPollInterval, "Poll interval (poll mode and push fallback)")
	return cmd
}
