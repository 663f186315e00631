package events

import "sync/atomic"

// ChanConsumer exposes signals on a buffered channel for in-process readers
// such as the CLI and tests. When the buffer is full new signals are dropped.
type ChanConsumer struct {
	name    string
	kinds   map[Kind]bool
	ch      chan Signal
	dropped atomic.Uint64
}

// NewChanConsumer creates a consumer that keeps only the given kinds, or all
// kinds when none are given.
func NewChanConsumer(name string, buffer int, kinds ...Kind) *ChanConsumer {
	c := &ChanConsumer{name: name, ch: make(chan Signal, buffer)}
	if len(kinds) > 0 {
		c.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			c.kinds[k] = true
		}
	}
	return c
}

func (c *ChanConsumer) Name() string { return c.name }

func (c *ChanConsumer) Consume(s Signal) error {
	if c.kinds != nil && !c.kinds[s.Kind] {
		return nil
	}
	select {
	case c.ch <- s:
	default:
		c.dropped.Add(1)
	}
	return nil
}

// C returns the receive channel.
func (c *ChanConsumer) C() <-chan Signal { return c.ch }

// Dropped returns how many signals did not fit in the buffer.
func (c *ChanConsumer) Dropped() uint64 { return c.dropped.Load() }

// Discard is a Publisher that accepts and drops everything.
type Discard struct{}

func (Discard) TryPublish(Signal) bool { return true }
