//go:build !tinygo

package hal

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestHostTimeStep(t *testing.T) {
	now := time.Unix(0, 0)
	ht := newHostTime(500 * time.Microsecond)
	ht.now = func() time.Time { return now }

	if n := ht.step(); n != 1 {
		t.Fatalf("first step = %d, want 1", n)
	}
	now = now.Add(300 * time.Microsecond)
	if n := ht.step(); n != 0 {
		t.Fatalf("step after 300us = %d, want 0", n)
	}
	now = now.Add(1800 * time.Microsecond)
	if n := ht.step(); n != 4 {
		t.Fatalf("step after 2.1ms = %d, want 4", n)
	}
	if ht.acc != 100*time.Microsecond {
		t.Fatalf("carry = %v, want 100us", ht.acc)
	}

	for want := uint64(1); want <= 5; want++ {
		select {
		case seq := <-ht.Ticks():
			if seq != want {
				t.Fatalf("tick seq = %d, want %d", seq, want)
			}
		default:
			t.Fatalf("missing tick %d", want)
		}
	}
}

func TestHostTimeDropsWhenFull(t *testing.T) {
	ht := newHostTime(time.Millisecond)
	ht.stepN(uint64(cap(ht.ch)) + 10)
	if len(ht.ch) != cap(ht.ch) || ht.seq != uint64(cap(ht.ch))+10 {
		t.Fatalf("queued %d, seq %d", len(ht.ch), ht.seq)
	}
}

func TestHostLoggerLineEndings(t *testing.T) {
	var buf bytes.Buffer
	l := &hostLogger{w: &buf}
	l.WriteLineString("a")
	l.setRaw(true)
	l.WriteLineBytes([]byte("b"))
	if got := buf.String(); got != "a\nb\r\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestRunHeadlessStopsWithOS(t *testing.T) {
	var got HAL
	err := RunHeadless(context.Background(), func(ctx context.Context, h HAL) error {
		got = h
		return nil
	}, HeadlessConfig{Hz: 1000})
	if err != nil {
		t.Fatalf("RunHeadless: %v", err)
	}
	if got == nil || got.Time().Period() != DefaultTickPeriod {
		t.Fatalf("HAL not handed to run")
	}
}

func TestRunHeadlessTickLimit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := RunHeadless(ctx, func(ctx context.Context, h HAL) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-h.Time().Ticks():
			}
		}
	}, HeadlessConfig{Hz: 1000, Ticks: 20, TickPeriod: time.Millisecond})
	if err != nil {
		t.Fatalf("RunHeadless: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("tick limit not reached before timeout")
	}
}

func TestRunHeadlessReportsFailure(t *testing.T) {
	boom := errors.New("boom")
	err := RunHeadless(context.Background(), func(context.Context, HAL) error {
		return boom
	}, HeadlessConfig{})
	if !errors.Is(err, boom) {
		t.Fatalf("RunHeadless err = %v, want boom", err)
	}
}
