package hal

import "time"

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// KeyEvent is a keyboard event.
type KeyEvent struct {
	Press bool
	Rune  rune
}

// Keyboard provides key events (best-effort on each platform).
type Keyboard interface {
	Events() <-chan KeyEvent
}

// Time provides a base tick stream.
//
// Each value received is the sequence number of one tick of Period length.
// Ticks are dropped, not queued, when the reader falls behind.
type Time interface {
	Ticks() <-chan uint64
	Period() time.Duration
}

// HAL provides the only contact point between the kernel and the outside
// world.
type HAL interface {
	Logger() Logger
	Keyboard() Keyboard
	Time() Time
}
