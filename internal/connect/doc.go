// Package connect dials the broker with a bounded number of attempts. A
// Manager retries a dial function with a fixed delay (optionally jittered or
// growing) and gives up with ErrConnectionExhausted, which processes treat
// as fatal.
package connect
