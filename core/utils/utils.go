// Package utils holds small concurrency and lifecycle helpers shared
// across components, adapted from chainlink's core/utils package (the
// same StartStopOnce/CombinedContext/WithJitter primitives referenced
// throughout eth_broadcaster.go).
package utils

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// StartStopOnce guards a service's Start/Close methods against being
// called more than once or out of order, exactly as chainlink embeds it
// into EthBroadcaster and friends.
type StartStopOnce struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

// StartOnce runs fn only if the service hasn't already been started.
func (s *StartStopOnce) StartOnce(name string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	return fn()
}

// StopOnce runs fn only if the service hasn't already been stopped.
func (s *StartStopOnce) StopOnce(name string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.started {
		return nil
	}
	s.stopped = true
	return fn()
}

// IfStarted runs fn only if the service is currently started and not yet
// stopped, returning whether it ran.
func (s *StartStopOnce) IfStarted(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return false
	}
	fn()
	return true
}

// CombinedContext returns a context cancelled either when parent is
// cancelled or when chStop is closed.
func CombinedContext(parent context.Context, chStop <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-chStop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// WithJitter adds up to 10% random jitter to a duration, used to avoid
// thundering-herd polling across multiple executor workers.
func WithJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 10))
	return d + jitter
}
