package services

import (
	"sync"
	"time"
)

const (
	DefaultTypingExpiry = 3 * time.Second
	DefaultTypingIdle   = 2 * time.Second
)

// TypingDebouncer coalesces keystrokes into one typing=true followed by one
// typing=false once the idle window passes without a keystroke.
type TypingDebouncer struct {
	idle time.Duration
	emit func(typing bool)

	mu         sync.Mutex
	typing     bool
	generation uint64
	timer      *time.Timer
}

func NewTypingDebouncer(idle time.Duration, emit func(typing bool)) *TypingDebouncer {
	return &TypingDebouncer{idle: idle, emit: emit}
}

func (d *TypingDebouncer) Keystroke() {
	d.mu.Lock()
	started := !d.typing
	d.typing = true
	d.generation++
	generation := d.generation
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.idle, func() { d.expire(generation) })
	d.mu.Unlock()

	if started {
		d.emit(true)
	}
}

func (d *TypingDebouncer) expire(generation uint64) {
	d.mu.Lock()
	if generation != d.generation || !d.typing {
		d.mu.Unlock()
		return
	}
	d.typing = false
	d.timer = nil
	d.mu.Unlock()

	d.emit(false)
}

// Stop cancels a pending idle timer without emitting. It reports whether a
// typing=true was outstanding.
func (d *TypingDebouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	wasTyping := d.typing
	d.typing = false
	return wasTyping
}
