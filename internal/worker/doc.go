// Package worker consumes inference requests from the work queue, runs them
// through a processor and publishes each result to the caller's reply queue.
//
// A message that cannot be decoded or processed is rejected without requeue,
// which dead-letters it when the queue has a dead-letter queue. A Worker
// keeps a consumer attached across broker restarts and serves the same
// processor over HTTP.
package worker
