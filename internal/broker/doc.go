// Package broker implements llmq's message broker: named queues with
// publish, prefetch-limited consume, ack and nack.
//
// Channel is the protocol every participant speaks. Engine implements it
// in-process on top of internal/queue; internal/client implements it over
// gRPC against a remote Engine.
//
// Publishing uses the default-exchange model: the routing key is the queue
// name. Each consumer holds at most Prefetch unacknowledged deliveries. When
// a consumer goes away its unacknowledged deliveries go back to the head of
// the queue flagged as redelivered. A nack without requeue drops the message,
// or moves it to the queue's dead-letter queue when one is declared.
package broker
