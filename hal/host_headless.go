//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// HeadlessConfig controls the terminal host runner.
type HeadlessConfig struct {
	// Hz is how often the wall clock is sampled for ticks.
	Hz int
	// Ticks stops the runner after N ticks (0 = run forever).
	Ticks uint64
	// TickPeriod is the length of one tick.
	TickPeriod time.Duration
	// Keyboard reads keystrokes from the controlling terminal.
	Keyboard bool
}

var (
	errTickLimit = errors.New("tick limit reached")
	errStopped   = errors.New("os stopped")
)

// RunHeadless runs the OS on the host terminal. run receives the HAL and
// blocks until the OS stops; the tick and keyboard pumps run alongside it and
// the first to fail stops the others.
func RunHeadless(ctx context.Context, run func(context.Context, HAL) error, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 100
	}
	if time.Second/time.Duration(cfg.Hz) <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}

	h := newHostHAL(os.Stdout, cfg.TickPeriod)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.t.pump(ctx, cfg.Hz, cfg.Ticks)
	})
	if cfg.Keyboard {
		g.Go(func() error {
			if err := h.kbd.runTTY(ctx, h.logger); err != nil {
				return fmt.Errorf("keyboard: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := run(ctx, h); err != nil {
			return err
		}
		return errStopped
	})

	err := g.Wait()
	if errors.Is(err, errTickLimit) || errors.Is(err, errStopped) {
		return nil
	}
	return err
}
