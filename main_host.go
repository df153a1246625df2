//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"rtx/app"
	"rtx/hal"
	"rtx/internal/buildinfo"
	"rtx/internal/klog"
	"rtx/kernel"
)

func main() {
	var hcfg hal.HeadlessConfig
	var (
		virtual  bool
		boot     string
		keys     string
		logLevel string
		resched  bool
		uptime   int
		messages int
		version  bool
	)
	flag.IntVar(&hcfg.Hz, "hz", 100, "Wall-clock sampling rate for the tick source.")
	flag.Uint64Var(&hcfg.Ticks, "ticks", 0, "Stop after N ticks (0 = run forever).")
	flag.DurationVar(&hcfg.TickPeriod, "tick", hal.DefaultTickPeriod, "Timer tick period.")
	flag.BoolVar(&hcfg.Keyboard, "tty", false, "Relay keystrokes from the terminal (Ctrl-C quits).")
	flag.BoolVar(&virtual, "virtual", false, "Skip idle time: jump straight to the next release.")
	flag.StringVar(&boot, "run", app.DefaultBoot, "Boot tasks, name[:prio] each ("+strings.Join(app.TaskNames(), ", ")+").")
	flag.StringVar(&keys, "keys", "", "Keystrokes to type into the relay, one per 250ms.")
	flag.StringVar(&logLevel, "log", "info", "Log level: none, error, warn, info, debug.")
	flag.BoolVar(&resched, "always-resched", false, "Let relayed keystrokes preempt the running task.")
	flag.IntVar(&uptime, "uptime", 0, "Stop the clock task after N seconds (0 = never).")
	flag.IntVar(&messages, "messages", 8, "Messages the producer sends.")
	flag.BoolVar(&version, "version", false, "Print the build and exit.")
	flag.Parse()

	if version {
		fmt.Println(buildinfo.String())
		return
	}

	level, err := klog.ParseLevel(logLevel)
	if err != nil {
		fatal(err)
	}
	list, err := app.ParseBootList(boot)
	if err != nil {
		fatal(err)
	}
	cfg := app.Config{
		Boot:          list,
		Clock:         kernel.ClockExternal,
		LogLevel:      level,
		AlwaysResched: resched,
		Keys:          keys,
		Uptime:        uptime,
		Messages:      messages,
	}
	if virtual {
		cfg.Clock = kernel.ClockVirtual
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err = hal.RunHeadless(ctx, func(ctx context.Context, h hal.HAL) error {
		s, err := app.New(h, cfg)
		if err != nil {
			return err
		}
		return s.Run(ctx)
	}, hcfg)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, kernel.ErrStalled) {
		fmt.Fprintln(os.Stderr, "rtx: every task is blocked and no timer is pending")
		os.Exit(2)
	}
	fatal(err)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "rtx:", err)
	os.Exit(1)
}
