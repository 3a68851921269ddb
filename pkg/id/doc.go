// Package id provides the 128-bit time-sortable identifiers the broker
// assigns to messages.
//
// An ID is 16 bytes big-endian: 8 bytes of Unix milliseconds followed by an
// 8-byte sequence. Byte order equals creation order within one process, so
// IDs double as Pebble key suffixes that keep a queue in FIFO order.
//
// The Generator never goes backwards: if the clock regresses it stays on the
// last millisecond and bumps the sequence, and if the sequence would wrap it
// waits for the next millisecond.
package id
