package id

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNextIsMonotonicWithinMillisecond(t *testing.T) {
	g := newGeneratorWithClock(func() int64 { return 1000 })
	a := g.Next()
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("expected %s < %s", a, b)
	}
	if a.Time().UnixMilli() != 1000 {
		t.Fatalf("embedded time = %d", a.Time().UnixMilli())
	}
}

func TestClockRegressionStaysOrdered(t *testing.T) {
	var now atomic.Int64
	now.Store(1000)
	g := newGeneratorWithClock(now.Load)

	a := g.Next()
	now.Store(900)
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("expected b > a despite clock regression")
	}
}

func TestSequenceOverflowWaitsForNextMillisecond(t *testing.T) {
	var now atomic.Int64
	now.Store(2000)
	g := newGeneratorWithClock(now.Load)
	g.lastMs = 2000
	g.sequence = ^uint64(0)

	done := make(chan ID, 1)
	go func() { done <- g.Next() }()
	time.AfterFunc(10*time.Millisecond, func() { now.Store(2001) })

	select {
	case got := <-done:
		if got.Time().UnixMilli() != 2001 {
			t.Fatalf("expected rollover to 2001, got %d", got.Time().UnixMilli())
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for overflow handling")
	}
}

func TestParseRoundTripsString(t *testing.T) {
	g := NewGenerator()
	a := g.Next()
	b, err := Parse(a.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a != b {
		t.Fatalf("got %s want %s", b, a)
	}
	if _, err := Parse("zz"); err == nil {
		t.Fatalf("expected error for bad hex")
	}
	if _, err := FromBytes([]byte{1, 2}); err == nil {
		t.Fatalf("expected error for short slice")
	}
}
