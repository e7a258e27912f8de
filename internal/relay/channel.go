// Package relay provides the bounded, multi-subscriber byte channels that carry
// tunnel traffic between a remote client and a job's interactive process.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity is the number of chunks retained per channel.
const DefaultCapacity = 100

var (
	// ErrClosed is returned by Send after Close, and by Recv once a closed
	// channel has been fully drained.
	ErrClosed = errors.New("relay: channel closed")

	// ErrNoSubscribers is returned by Send when nobody is listening.
	// The chunk is dropped.
	ErrNoSubscribers = errors.New("relay: no subscribers")
)

// LaggedError is returned by Recv when the subscriber fell behind and the
// oldest chunks it had not read yet were overwritten.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("relay: subscriber lagged, %d chunks dropped", e.Missed)
}

// Channel is a broadcast channel of byte chunks.
// Every subscriber sees every chunk sent after it subscribed, unless it falls
// more than capacity chunks behind, in which case the oldest are dropped.
type Channel struct {
	mu       sync.Mutex
	ring     [][]byte
	next     uint64 // sequence number of the next chunk
	closed   bool
	subs     map[*Subscription]struct{}
	notify   chan struct{}
	capacity uint64
}

// NewChannel creates a channel retaining up to capacity chunks.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		ring:     make([][]byte, capacity),
		subs:     make(map[*Subscription]struct{}),
		notify:   make(chan struct{}),
		capacity: uint64(capacity),
	}
}

// Send broadcasts a copy of data to all current subscribers and returns how
// many there were. It never blocks.
func (c *Channel) Send(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	if len(c.subs) == 0 {
		return 0, ErrNoSubscribers
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	c.ring[c.next%c.capacity] = chunk
	c.next++

	close(c.notify)
	c.notify = make(chan struct{})

	return len(c.subs), nil
}

// Subscribe registers a new subscriber that will observe chunks sent from now on.
// Subscribing to a closed channel returns a subscription whose Recv reports ErrClosed.
func (c *Channel) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Subscription{ch: c, pos: c.next}
	if !c.closed {
		c.subs[s] = struct{}{}
	}
	return s
}

// Close closes the channel. Subscribers drain what is buffered and then get ErrClosed.
// Close is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.notify)
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribers returns the number of active subscribers.
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Capacity returns the number of chunks retained for slow subscribers.
func (c *Channel) Capacity() int {
	return int(c.capacity)
}

// Subscription is one receiver of a Channel. It is not safe for concurrent Recv calls.
type Subscription struct {
	ch  *Channel
	pos uint64
}

// Recv blocks until the next chunk is available, the channel is closed and
// drained, or ctx is done. When chunks were overwritten before this
// subscriber read them, Recv returns a *LaggedError once and then continues
// with the oldest retained chunk.
func (s *Subscription) Recv(ctx context.Context) ([]byte, error) {
	for {
		c := s.ch
		c.mu.Lock()

		var oldest uint64
		if c.next > c.capacity {
			oldest = c.next - c.capacity
		}
		if s.pos < oldest {
			missed := oldest - s.pos
			s.pos = oldest
			c.mu.Unlock()
			return nil, &LaggedError{Missed: missed}
		}

		if s.pos < c.next {
			chunk := c.ring[s.pos%c.capacity]
			s.pos++
			c.mu.Unlock()
			return chunk, nil
		}

		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}

		wait := c.notify
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close detaches the subscription so the channel stops counting it.
func (s *Subscription) Close() {
	s.ch.mu.Lock()
	delete(s.ch.subs, s)
	s.ch.mu.Unlock()
}
