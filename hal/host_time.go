//go:build !tinygo

package hal

import (
	"context"
	"time"
)

// hostTime turns wall-clock progress, sampled at a coarse pump rate, into
// ticks of period length. Elapsed time is accumulated and paid out in bursts.
type hostTime struct {
	ch     chan uint64
	seq    uint64
	period time.Duration

	now  func() time.Time
	last time.Time
	acc  time.Duration
}

func newHostTime(period time.Duration) *hostTime {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	return &hostTime{ch: make(chan uint64, 1024), period: period, now: time.Now}
}

func (t *hostTime) Ticks() <-chan uint64   { return t.ch }
func (t *hostTime) Period() time.Duration { return t.period }

// step pays out the ticks that elapsed since the previous call and returns
// how many it emitted. The first call emits one tick.
func (t *hostTime) step() uint64 {
	now := t.now()
	if t.last.IsZero() {
		t.last = now
		t.acc = 0
		t.stepN(1)
		return 1
	}

	t.acc += now.Sub(t.last)
	t.last = now

	ticks := uint64(t.acc / t.period)
	if ticks == 0 {
		return 0
	}
	t.acc = t.acc % t.period
	t.stepN(ticks)
	return ticks
}

func (t *hostTime) stepN(n uint64) {
	for i := uint64(0); i < n; i++ {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}

// pump samples the wall clock hz times a second until ctx ends or limit
// ticks (0 = no limit) have been emitted.
func (t *hostTime) pump(ctx context.Context, hz int, limit uint64) error {
	tk := time.NewTicker(time.Second / time.Duration(hz))
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			t.step()
			if limit > 0 && t.seq >= limit {
				return errTickLimit
			}
		}
	}
}
