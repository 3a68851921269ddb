package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/llmq/internal/broker"
	brokerclient "github.com/rzbill/llmq/internal/client"
)

// NewQueueCommand constructs the `queue` command group and subcommands.
func NewQueueCommand() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:     "queue",
		Aliases: []string{"q"},
		Short:   "Queue operations against a running broker",
		Long: `Queue operations over the broker's gRPC API.

Message Lifecycle:
  Ready → [consume] → Unacked → [ack] → gone
                         ↓ (nack, no requeue)
                        dead-letter queue (if configured) or dropped

Commands:
  list        List queues with their depth
  declare     Create a queue (idempotent)
  delete      Delete a queue and its messages
  purge       Drop all ready messages
  stats       Show one queue's depth and consumers
  peek        Show ready messages without consuming them
  publish     Publish one message`,
	}
	addBrokerFlag(queueCmd)

	queueCmd.AddCommand(
		newQueueListCommand(),
		newQueueDeclareCommand(),
		newQueueDeleteCommand(),
		newQueuePurgeCommand(),
		newQueueStatsCommand(),
		newQueuePeekCommand(),
		newQueuePublishCommand(),
	)
	return queueCmd
}

type queueView struct {
	Name            string `json:"name"`
	Durable         bool   `json:"durable"`
	Exclusive       bool   `json:"exclusive,omitempty"`
	AutoDelete      bool   `json:"auto_delete,omitempty"`
	DeadLetterQueue string `json:"dead_letter_queue,omitempty"`
	Messages        int    `json:"messages"`
	MessagesReady   int    `json:"messages_ready"`
	MessagesUnacked int    `json:"messages_unacknowledged"`
	Consumers       int    `json:"consumers"`
}

func toView(i broker.QueueInfo) queueView {
	return queueView{
		Name:            i.Name,
		Durable:         i.Durable,
		Exclusive:       i.Exclusive,
		AutoDelete:      i.AutoDelete,
		DeadLetterQueue: i.DeadLetterQueue,
		Messages:        i.Messages(),
		MessagesReady:   i.Ready,
		MessagesUnacked: i.Unacked,
		Consumers:       i.Consumers,
	}
}

// newQueueListCommand constructs the `queue list` subcommand.
func newQueueListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(cli *brokerclient.Client) error {
				infos, err := cli.ListQueues(cmd.Context())
				if err != nil {
					return err
				}
				views := make([]queueView, 0, len(infos))
				for _, i := range infos {
					views = append(views, toView(i))
				}
				return printJSON(cmd, views)
			})
		},
	}
}

// newQueueDeclareCommand constructs the `queue declare` subcommand.
func newQueueDeclareCommand() *cobra.Command {
	declareCmd := &cobra.Command{
		Use:   "declare NAME",
		Short: "Declare a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			durable, _ := cmd.Flags().GetBool("durable")
			autoDelete, _ := cmd.Flags().GetBool("auto-delete")
			dlq, _ := cmd.Flags().GetString("dlq")
			return withClient(cmd, func(cli *brokerclient.Client) error {
				info, err := cli.DeclareQueue(cmd.Context(), broker.QueueSpec{
					Name:            args[0],
					Durable:         durable,
					AutoDelete:      autoDelete,
					DeadLetterQueue: dlq,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, toView(info))
			})
		},
	}
	declareCmd.Flags().Bool("durable", true, "Survive broker restarts")
	declareCmd.Flags().Bool("auto-delete", false, "Delete when the last consumer goes")
	declareCmd.Flags().String("dlq", "", "Dead-letter queue for rejected messages")
	return declareCmd
}

// newQueueDeleteCommand constructs the `queue delete` subcommand.
func newQueueDeleteCommand() *cobra.Command {
	deleteCmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ifUnused, _ := cmd.Flags().GetBool("if-unused")
			ifEmpty, _ := cmd.Flags().GetBool("if-empty")
			return withClient(cmd, func(cli *brokerclient.Client) error {
				n, err := cli.DeleteQueue(cmd.Context(), args[0], broker.DeleteOptions{IfUnused: ifUnused, IfEmpty: ifEmpty})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%d messages)\n", args[0], n)
				return nil
			})
		},
	}
	deleteCmd.Flags().Bool("if-unused", false, "Only delete when no consumer is attached")
	deleteCmd.Flags().Bool("if-empty", false, "Only delete when the queue holds no messages")
	return deleteCmd
}

// newQueuePurgeCommand constructs the `queue purge` subcommand.
func newQueuePurgeCommand() *cobra.Command {
	purgeCmd := &cobra.Command{
		Use:   "purge NAME",
		Short: "Drop all ready messages (requires --confirm)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm, _ := cmd.Flags().GetBool("confirm")
			if !confirm {
				return fmt.Errorf("refusing to purge %s without --confirm", args[0])
			}
			return withClient(cmd, func(cli *brokerclient.Client) error {
				n, err := cli.PurgeQueue(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "purged %d messages from %s\n", n, args[0])
				return nil
			})
		},
	}
	purgeCmd.Flags().Bool("confirm", false, "Confirm the purge")
	return purgeCmd
}

// newQueueStatsCommand constructs the `queue stats` subcommand.
func newQueueStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats NAME",
		Short: "Show queue depth and consumers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(cli *brokerclient.Client) error {
				info, err := cli.QueueInfo(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, toView(info))
			})
		},
	}
}

// newQueuePeekCommand constructs the `queue peek` subcommand.
func newQueuePeekCommand() *cobra.Command {
	peekCmd := &cobra.Command{
		Use:   "peek NAME",
		Short: "Show ready messages without consuming them",
		Long: `Show ready messages from the head of a queue.

--filter takes a CEL expression over the message, for example:
  correlation_id == "c-42"
  text.contains("thrilled")
  json.new_message != ""`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			return withClient(cmd, func(cli *brokerclient.Client) error {
				msgs, err := cli.Peek(cmd.Context(), args[0], broker.PeekOptions{Filter: filter, Limit: limit})
				if err != nil {
					return err
				}
				out := make([]map[string]any, 0, len(msgs))
				for _, m := range msgs {
					item := map[string]any{
						"message_id":   m.MessageID,
						"timestamp_ms": m.TimestampMs,
						"redelivered":  m.Redelivered,
					}
					if m.CorrelationID != "" {
						item["correlation_id"] = m.CorrelationID
					}
					if m.ReplyTo != "" {
						item["reply_to"] = m.ReplyTo
					}
					if len(m.Headers) > 0 {
						item["headers"] = m.Headers
					}
					out = append(out, decodedPayload(item, m.Body))
				}
				return printJSON(cmd, out)
			})
		},
	}
	peekCmd.Flags().String("filter", "", "CEL filter expression")
	peekCmd.Flags().Int("limit", 10, "Maximum messages to show")
	return peekCmd
}

// newQueuePublishCommand constructs the `queue publish` subcommand.
func newQueuePublishCommand() *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish NAME",
		Short: "Publish one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetString("data")
			correlationID, _ := cmd.Flags().GetString("correlation-id")
			replyTo, _ := cmd.Flags().GetString("reply-to")
			contentType, _ := cmd.Flags().GetString("content-type")
			rawHeaders, _ := cmd.Flags().GetStringArray("header")
			headers, err := parseHeaders(rawHeaders)
			if err != nil {
				return err
			}
			return withClient(cmd, func(cli *brokerclient.Client) error {
				if err := cli.Publish(cmd.Context(), args[0], broker.Publishing{
					Body:          []byte(data),
					CorrelationID: correlationID,
					ReplyTo:       replyTo,
					ContentType:   contentType,
					Headers:       headers,
				}); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
				return nil
			})
		},
	}
	publishCmd.Flags().String("data", "", "Message body")
	publishCmd.Flags().String("correlation-id", "", "Correlation id")
	publishCmd.Flags().String("reply-to", "", "Reply queue")
	publishCmd.Flags().String("content-type", "application/json", "Content type")
	publishCmd.Flags().StringArray("header", nil, "Header key=value (repeatable)")
	return publishCmd
}
