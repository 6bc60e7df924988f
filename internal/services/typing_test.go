package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitLog struct {
	mu    sync.Mutex
	calls []bool
}

func (l *emitLog) emit(typing bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, typing)
}

func (l *emitLog) snapshot() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.calls...)
}

func TestTypingDebouncerCoalescesBurst(t *testing.T) {
	log := &emitLog{}
	d := NewTypingDebouncer(40*time.Millisecond, log.emit)

	for i := 0; i < 5; i++ {
		d.Keystroke()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, []bool{true}, log.snapshot())

	require.Eventually(t, func() bool {
		return len(log.snapshot()) == 2
	}, waitFor, tick)
	assert.Equal(t, []bool{true, false}, log.snapshot())
}

func TestTypingDebouncerNewBurstAfterIdle(t *testing.T) {
	log := &emitLog{}
	d := NewTypingDebouncer(20*time.Millisecond, log.emit)

	d.Keystroke()
	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, waitFor, tick)

	d.Keystroke()
	require.Eventually(t, func() bool { return len(log.snapshot()) == 4 }, waitFor, tick)
	assert.Equal(t, []bool{true, false, true, false}, log.snapshot())
}

func TestTypingDebouncerStop(t *testing.T) {
	log := &emitLog{}
	d := NewTypingDebouncer(20*time.Millisecond, log.emit)

	assert.False(t, d.Stop())

	d.Keystroke()
	assert.True(t, d.Stop())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []bool{true}, log.snapshot(), "stopped debouncer must not emit the idle false")
}
