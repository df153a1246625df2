//go:build tinygo && baremetal

package hal

import (
	"machine"
	"time"
)

const tickPeriod = 500 * time.Microsecond

type tinyGoTime struct {
	ch  chan uint64
	seq uint64
}

func newTinyGoTime() *tinyGoTime {
	t := &tinyGoTime{ch: make(chan uint64, 16)}
	go func() {
		ticker := time.NewTicker(tickPeriod)
		defer ticker.Stop()
		for range ticker.C {
			t.seq++
			select {
			case t.ch <- t.seq:
			default:
			}
		}
	}()
	return t
}

func (t *tinyGoTime) Ticks() <-chan uint64   { return t.ch }
func (t *tinyGoTime) Period() time.Duration { return tickPeriod }

type uartLogger struct {
	uart *machine.UART
}

func (l *uartLogger) WriteLineString(s string) {
	for i := 0; i < len(s); i++ {
		l.uart.WriteByte(s[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

func (l *uartLogger) WriteLineBytes(b []byte) {
	for i := 0; i < len(b); i++ {
		l.uart.WriteByte(b[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

type uartKeyboard struct {
	ch chan KeyEvent
}

func newUARTKeyboard(uart *machine.UART) *uartKeyboard {
	k := &uartKeyboard{ch: make(chan KeyEvent, 16)}
	go func() {
		for {
			if uart.Buffered() == 0 {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			b, err := uart.ReadByte()
			if err != nil {
				continue
			}
			select {
			case k.ch <- KeyEvent{Press: true, Rune: rune(b)}:
			default:
			}
		}
	}()
	return k
}

func (k *uartKeyboard) Events() <-chan KeyEvent { return k.ch }
