// Package queue is the durable FIFO store behind each broker queue.
//
// A queue keeps two keyspaces in Pebble, ordered by the message id so that
// iteration order is publish order:
//
//	qmeta/{name}               - declaration (JSON)
//	q/{name}/ready/{id}        - messages waiting for a consumer
//	q/{name}/unacked/{id}      - messages delivered but not yet acknowledged
//
// Claim moves the oldest ready messages to unacked and bumps their delivery
// count. Ack deletes. Requeue moves back to ready under the original id, so a
// returned message goes back to the head of the queue. Recover does the same
// for everything unacked and runs when the broker opens a durable queue after
// a restart.
//
// Values are record-encoded: headerLen(4B BE) | msgpack header | body | crc32c.
//
// Delivery is at-least-once. Consumer bookkeeping (which consumer holds which
// unacked message) is kept by the broker in memory; the store only knows
// ready versus unacked.
package queue
