package resilience

import (
	"errors"
	"sync"
	"time"
)

// RateLimitError represents a backend rate limit response.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

// IsRateLimit returns true when the error is a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// CircuitBreaker blocks requests after repeated rate limit failures.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	openUntil time.Time
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(open bool)
	open      bool
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// OnStateChange registers fn to be called when the breaker opens or closes.
// fn runs without the breaker lock held.
func (c *CircuitBreaker) OnStateChange(fn func(open bool)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	allowed := !c.now().Before(c.openUntil)
	notify := c.setOpenLocked(!allowed)
	c.mu.Unlock()
	notify()
	return allowed
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	notify := c.setOpenLocked(false)
	c.mu.Unlock()
	notify()
}

func (c *CircuitBreaker) OnError(err error) {
	if !IsRateLimit(err) {
		return
	}
	c.mu.Lock()
	c.failures++
	notify := func() {}
	if c.failures >= c.threshold {
		c.openUntil = c.now().Add(c.cooldown)
		notify = c.setOpenLocked(true)
	}
	c.mu.Unlock()
	notify()
}

func (c *CircuitBreaker) setOpenLocked(open bool) func() {
	if c.open == open {
		return func() {}
	}
	c.open = open
	if !open {
		c.failures = 0
	}
	fn := c.onChange
	if fn == nil {
		return func() {}
	}
	return func() { fn(open) }
}
