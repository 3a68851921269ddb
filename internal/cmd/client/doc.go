// Package client provides the client half of the `llmq` command line.
//
// Every command talks to the broker's gRPC endpoint. The address comes from
// --broker, then LLMQ_BROKER_ADDR, then 127.0.0.1:50051.
//
// Usage
//
//	llmq queue list
//	llmq queue declare llm_queue --dlq llm_queue.dlq
//	llmq queue stats llm_queue
//	llmq queue peek llm_queue --filter 'text.contains("thrilled")' --limit 5
//	llmq queue publish llm_queue --data '{"new_message":"hi"}' --header source=cli
//	llmq queue purge llm_queue --confirm
//	llmq queue delete llm_queue.dlq --if-empty
//
//	# one request/reply round trip through the workers
//	llmq call --data '{"new_message":"I am thrilled"}' --timeout 10s
//
//	# fire-and-forget backlog for exercising the autoscaler
//	llmq loadgen --count 200
//
// Notes
//
//   - peek never removes or settles messages.
//   - call declares an exclusive reply queue for the lifetime of the command.
//   - output of list, stats and peek is indented JSON.
package client
