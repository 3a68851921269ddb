// Package rpc implements request/reply over the broker. A Client publishes
// each call to the work queue with a fresh correlation id and a reply-to
// address naming its private reply queue, then waits for the matching reply.
//
// One exclusive, auto-delete reply queue and one consumer serve all calls of
// a Client. A dispatcher goroutine owns that consumer and routes each reply
// to the waiter registered under its correlation id.
package rpc
