package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command holding the client commands:
// queue, call and loadgen.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "llmq",
		Short: "llmq client commands",
	}
	root.AddCommand(NewQueueCommand(), NewCallCommand(), NewLoadgenCommand())
	return root
}
