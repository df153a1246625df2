//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// DefaultTickPeriod is the host timer interrupt period.
const DefaultTickPeriod = 500 * time.Microsecond

type hostHAL struct {
	logger *hostLogger
	kbd    *hostKeyboard
	t      *hostTime
}

// New returns a host HAL implementation logging to stdout.
func New() HAL {
	return newHostHAL(os.Stdout, DefaultTickPeriod)
}

func newHostHAL(w io.Writer, period time.Duration) *hostHAL {
	return &hostHAL{
		logger: &hostLogger{w: w},
		kbd:    newHostKeyboard(),
		t:      newHostTime(period),
	}
}

func (h *hostHAL) Logger() Logger     { return h.logger }
func (h *hostHAL) Keyboard() Keyboard { return h.kbd }
func (h *hostHAL) Time() Time         { return h.t }

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
	// raw terminals need an explicit carriage return
	crlf bool
}

func (l *hostLogger) setRaw(raw bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.crlf = raw
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.crlf {
		fmt.Fprint(l.w, s, "\r\n")
		return
	}
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.WriteLineString(string(b))
}
