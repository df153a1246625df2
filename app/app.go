package app

import (
	"context"
	"fmt"
	"time"

	"rtx/hal"
	"rtx/internal/buildinfo"
	"rtx/internal/klog"
	"rtx/kernel"

	"golang.org/x/sync/errgroup"
)

// DefaultBoot is the boot list used when Config.Boot is empty.
const DefaultBoot = "echo consumer producer clock heap ps"

// Config selects the boot tasks and kernel policies.
type Config struct {
	// Boot is the boot task list, see ParseBootList. Empty means DefaultBoot.
	Boot  []BootEntry
	Clock kernel.ClockMode

	// LogLevel masks kernel and task log lines. Zero is silent.
	LogLevel klog.MaskLevel
	// AlwaysResched makes relayed keystrokes preempt like any other message.
	AlwaysResched bool

	// Keys are typed into the key relay by the script task.
	Keys string
	// Uptime stops the clock task after that many seconds (0 = never).
	Uptime int
	// Messages is how many messages the producer sends.
	Messages int
}

// System is a booted kernel plus the HAL feeding it.
type System struct {
	h    hal.HAL
	k    *kernel.Kernel
	log  *klog.Logger
	cfg  Config
	tids map[string]kernel.TaskID
}

// New builds the kernel on top of h and creates the boot tasks. Nothing runs
// until Run.
func New(h hal.HAL, cfg Config) (*System, error) {
	if cfg.Messages <= 0 {
		cfg.Messages = 8
	}
	if len(cfg.Boot) == 0 {
		boot, err := ParseBootList(DefaultBoot)
		if err != nil {
			return nil, err
		}
		cfg.Boot = boot
	}
	if cfg.Keys != "" && !hasTask(cfg.Boot, "script") {
		cfg.Boot = append(cfg.Boot, BootEntry{Name: "script", Prio: kernel.PrioRT})
	}

	s := &System{
		h:    h,
		log:  klog.New(h.Logger(), cfg.LogLevel),
		cfg:  cfg,
		tids: make(map[string]kernel.TaskID),
	}
	s.log.Infof("rtx %s booting", buildinfo.Short())

	// Boot tasks are pinned to slots in list order.
	for i, e := range cfg.Boot {
		s.tids[e.Name] = kernel.TaskID(i + 1)
	}
	relay := kernel.TIDNull
	if tid, ok := s.tids["echo"]; ok {
		relay = tid
	}
	policy := kernel.SendPolicyDeferKeyRelay
	if cfg.AlwaysResched {
		policy = kernel.SendPolicyAlwaysResched
	}

	bootStep(h, "kernel")
	k, err := kernel.New(kernel.Config{
		Logger:     s.log,
		Clock:      cfg.Clock,
		TickSize:   h.Time().Period(),
		SendPolicy: policy,
		KeyRelayTo: relay,
		OnPanic:    s.reportPanic,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	s.k = k

	bootStep(h, "tasks")
	tasks, err := s.bootTasks()
	if err != nil {
		return nil, err
	}
	if err := k.Init(tasks); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return s, nil
}

// Kernel returns the booted kernel.
func (s *System) Kernel() *kernel.Kernel { return s.k }

// Run starts the kernel and feeds it HAL ticks and keystrokes until every
// task has exited, the kernel fails, or ctx ends.
func (s *System) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bootStep(s.h, "run")
	g, ctx := errgroup.WithContext(ctx)
	if s.cfg.Clock == kernel.ClockExternal {
		g.Go(func() error {
			ticks := s.h.Time().Ticks()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticks:
					s.k.Tick()
				}
			}
		})
	}
	g.Go(func() error {
		events := s.h.Keyboard().Events()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-events:
				if !ev.Press || ev.Rune == 0 {
					continue
				}
				if !s.k.RelayKey(ev.Rune) {
					s.log.Warnf("key %q dropped, relay queue full", ev.Rune)
				}
			}
		}
	})
	g.Go(func() error {
		start := time.Now()
		err := s.k.Run(ctx)
		cancel()
		if err != nil {
			return err
		}
		s.log.Infof("all tasks exited after %v", time.Since(start).Round(time.Millisecond))
		return nil
	})
	return g.Wait()
}

// Run boots the default system and blocks forever (TinyGo/native
// entrypoint).
func Run(h hal.HAL) {
	s, err := New(h, Config{LogLevel: klog.Default})
	if err != nil {
		h.Logger().WriteLineString("rtx: boot failed: " + err.Error())
		select {}
	}
	if err := s.Run(context.Background()); err != nil {
		h.Logger().WriteLineString("rtx: stopped: " + err.Error())
	}
	select {}
}
