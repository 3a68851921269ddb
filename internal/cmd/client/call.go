package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/llmq/internal/broker"
	brokerclient "github.com/rzbill/llmq/internal/client"
	"github.com/rzbill/llmq/internal/rpc"
)

// NewCallCommand constructs the `call` command: one request/reply round trip
// through the work queue.
func NewCallCommand() *cobra.Command {
	callCmd := &cobra.Command{
		Use:   "call",
		Short: "Send one request to the workers and print the reply",
		Example: `  llmq call --data '{"new_message":"I am thrilled"}'
  llmq call --data '{"new_message":"hi","session_id":"s-1"}' --timeout 5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, _ := cmd.Flags().GetString("data")
			queue, _ := cmd.Flags().GetString("queue")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			rawHeaders, _ := cmd.Flags().GetStringArray("header")
			if data == "" {
				return fmt.Errorf("--data is required")
			}
			headers, err := parseHeaders(rawHeaders)
			if err != nil {
				return err
			}
			return withClient(cmd, func(cli *brokerclient.Client) error {
				rc := rpc.New(cli, rpc.WithWorkQueue(queue), rpc.WithDefaultTimeout(timeout))
				defer func() { _ = rc.Close() }()

				reply, err := rc.Call(cmd.Context(), []byte(data), rpc.WithHeaders(headers))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(reply.Body))
				return nil
			})
		},
	}
	addBrokerFlag(callCmd)
	callCmd.Flags().String("data", "", "Request body (JSON)")
	callCmd.Flags().String("queue", broker.WorkQueue, "Work queue")
	callCmd.Flags().Duration("timeout", rpc.DefaultTimeout, "Reply timeout (0 waits forever)")
	callCmd.Flags().StringArray("header", nil, "Header key=value (repeatable)")
	return callCmd
}

// NewLoadgenCommand constructs the `loadgen` command, which publishes
// fire-and-forget messages to build up a backlog.
func NewLoadgenCommand() *cobra.Command {
	loadCmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Publish N messages without waiting for replies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, _ := cmd.Flags().GetInt("count")
			queue, _ := cmd.Flags().GetString("queue")
			dlq, _ := cmd.Flags().GetString("dlq")
			interval, _ := cmd.Flags().GetDuration("interval")
			if count < 0 {
				return fmt.Errorf("--count must not be negative")
			}
			return withClient(cmd, func(cli *brokerclient.Client) error {
				ctx := cmd.Context()
				if _, err := cli.DeclareQueue(ctx, broker.QueueSpec{Name: queue, Durable: true, DeadLetterQueue: dlq}); err != nil {
					return err
				}
				start := time.Now()
				for i := 0; i < count; i++ {
					if err := cli.Publish(ctx, queue, broker.Publishing{
						Body:        []byte(fmt.Sprintf("Message %d", i)),
						ContentType: "text/plain",
					}); err != nil {
						return fmt.Errorf("publish %d: %w", i, err)
					}
					if interval > 0 {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-time.After(interval):
						}
					}
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "published %d messages to %s in %s\n",
					count, queue, time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
	addBrokerFlag(loadCmd)
	loadCmd.Flags().Int("count", 200, "Number of messages")
	loadCmd.Flags().String("queue", broker.WorkQueue, "Target queue")
	loadCmd.Flags().String("dlq", "", "Dead-letter queue used when the queue is first declared")
	loadCmd.Flags().Duration("interval", 0, "Pause between messages")
	return loadCmd
}
