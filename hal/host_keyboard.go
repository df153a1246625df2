//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"io"

	tty "github.com/mattn/go-tty"
)

type hostKeyboard struct {
	ch chan KeyEvent
}

func newHostKeyboard() *hostKeyboard {
	return &hostKeyboard{ch: make(chan KeyEvent, 64)}
}

func (k *hostKeyboard) Events() <-chan KeyEvent { return k.ch }

func (k *hostKeyboard) emit(r rune) {
	select {
	case k.ch <- KeyEvent{Press: true, Rune: r}:
	default:
	}
}

// runTTY opens the controlling terminal (uncooked until Close) and forwards
// keystrokes until ctx ends or the terminal closes.
func (k *hostKeyboard) runTTY(ctx context.Context, log *hostLogger) error {
	t, err := tty.Open()
	if err != nil {
		return err
	}
	log.setRaw(true)
	defer func() {
		log.setRaw(false)
		t.Close()
	}()

	runes := make(chan rune)
	errc := make(chan error, 1)
	go func() {
		for {
			r, err := t.ReadRune()
			if err != nil {
				errc <- err
				return
			}
			select {
			case runes <- r:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-runes:
			// Ctrl-C is not delivered as a signal in raw mode.
			if r == 0x03 {
				return context.Canceled
			}
			k.emit(r)
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

