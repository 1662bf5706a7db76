package term

import (
	"sync"
	"time"
)

// outputBuffer coalesces rapid small PTY writes into larger flushes.
// A flush fires when pending data reaches threshold bytes or when
// interval elapses after the first unflushed write, whichever comes
// first. Flushes preserve write order; the flush callback runs under
// the buffer lock and must not call back into the buffer.
type outputBuffer struct {
	mu        sync.Mutex
	pending   []byte
	timer     *time.Timer
	flush     func([]byte)
	threshold int
	interval  time.Duration
	closed    bool
}

func newOutputBuffer(threshold int, interval time.Duration, flush func([]byte)) *outputBuffer {
	return &outputBuffer{
		flush:     flush,
		threshold: threshold,
		interval:  interval,
	}
}

func (b *outputBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending = append(b.pending, p...)
	if len(b.pending) >= b.threshold {
		b.flushLocked()
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.timerFlush)
	}
}

func (b *outputBuffer) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.flushLocked()
}

// Close forces a final flush and drops any pending timer. Called on
// process exit before the exit notification, so no output is lost.
func (b *outputBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.flushLocked()
	b.closed = true
}

func (b *outputBuffer) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	chunk := b.pending
	b.pending = nil
	b.flush(chunk)
}

// scrollback is the bounded replay buffer for a session. On overflow
// the oldest bytes are dropped; retained bytes are never reordered.
type scrollback struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newScrollback(max int) *scrollback {
	return &scrollback{max: max}
}

func (s *scrollback) Append(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(p) >= s.max {
		s.buf = append(s.buf[:0], p[len(p)-s.max:]...)
		return
	}
	s.buf = append(s.buf, p...)
	if over := len(s.buf) - s.max; over > 0 {
		s.buf = append(s.buf[:0], s.buf[over:]...)
	}
}

func (s *scrollback) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf...)
}

func (s *scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
