package session

import (
	"sync"
	"time"

	"github.com/trezcool/mtihani/core"
)

// Countdown ticks every second until a deadline, then fires onExpire exactly once.
type Countdown struct {
	deadline time.Time
	clock    core.Clock
	interval time.Duration
	onTick   func(left time.Duration)
	onExpire func()

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewCountdown returns a stopped Countdown; onTick may be nil.
func NewCountdown(deadline time.Time, clock core.Clock, onTick func(left time.Duration), onExpire func()) *Countdown {
	return &Countdown{
		deadline: deadline,
		clock:    clock,
		interval: time.Second,
		onTick:   onTick,
		onExpire: onExpire,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Countdown) Left() time.Duration {
	left := c.deadline.Sub(c.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

func (c *Countdown) Start() {
	go c.run()
}

func (c *Countdown) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		left := c.Left()
		if c.onTick != nil {
			c.onTick(left)
		}
		if left == 0 {
			c.onExpire()
			return
		}

		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
	}
}

// Stop halts the countdown without firing onExpire. It is safe to call more than once.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once the countdown has expired or been stopped.
func (c *Countdown) Done() <-chan struct{} { return c.done }
