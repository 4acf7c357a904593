package chatctl

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"matchchat/internal/domain"
	"matchchat/internal/middleware"
)

func newTokenCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a development access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := middleware.IssueToken(flags.jwtConfig(), args[0], ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func newResolveCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <participant-id>",
		Short: "Find or create the conversation with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			conv, err := c.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, conv)
		},
	}
}

func newConversationsCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations with last message and unread count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			sort, _ := cmd.Flags().GetString("sort")
			query, _ := cmd.Flags().GetString("q")
			opts, err := domain.ParseListOptions(filter, sort, query)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			views, err := c.ListConversations(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, views)
		},
	}
	cmd.Flags().String("filter", "all", "Filter: all|unread")
	cmd.Flags().String("sort", "newest", "Sort: newest|oldest")
	cmd.Flags().String("q", "", "Case-insensitive search by participant name")
	return cmd
}

func newSendCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text...>",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			msg, err := c.Send(cmd.Context(), id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printJSON(cmd, msg)
		},
	}
}

func newMessagesCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "List messages in ascending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			after, _ := cmd.Flags().GetInt64("after")
			limit, _ := cmd.Flags().GetInt("limit")
			c, err := flags.client()
			if err != nil {
				return err
			}
			messages, err := c.ListMessages(cmd.Context(), id, domain.MessagePage{After: after, Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(cmd, messages)
		},
	}
	cmd.Flags().Int64("after", 0, "Return messages after this sequence number")
	cmd.Flags().Int("limit", domain.DefaultMessagePageSize, "Page size (max 200)")
	return cmd
}

func newLatestCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "latest <conversation-id>",
		Short: "Show the most recent message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			msg, err := c.LatestMessage(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, msg)
		},
	}
}

func newReadCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark incoming messages as read",
		Long:  "Marks every unread incoming message of the conversation, or a single message with --message.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			if single, _ := cmd.Flags().GetBool("message"); single {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return err
				}
				msg, updated, err := c.MarkRead(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"message": msg, "updated": updated})
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			marked, err := c.MarkConversationRead(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"marked": marked})
		},
	}
	cmd.Flags().Bool("message", false, "Treat the argument as a message id")
	return cmd
}

func newUnreadCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unread [conversation-id]",
		Short: "Unread count for one conversation or the total badge",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				total, err := c.TotalUnread(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{"total_unread": total})
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			count, err := c.UnreadCount(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"unread_count": count})
		},
	}
}
