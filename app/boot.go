package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"rtx/kernel"

	"github.com/google/shlex"
)

// BootEntry is one task of the boot list.
type BootEntry struct {
	Name string
	Prio kernel.Priority
}

type taskSpec struct {
	prio kernel.Priority
	// period is used when the task boots in the real-time class.
	period time.Duration
	stack  int
	entry  func(*System, *kernel.Context)
}

var registry = map[string]taskSpec{
	"echo":     {prio: kernel.High, entry: (*System).echo},
	"consumer": {prio: kernel.Medium, entry: (*System).consumer},
	"producer": {prio: kernel.Low, entry: (*System).producer},
	"clock":    {prio: kernel.PrioRT, period: time.Second, entry: (*System).clock},
	"heap":     {prio: kernel.Lowest, stack: 1024, entry: (*System).heap},
	"ps":       {prio: kernel.Lowest, entry: (*System).ps},
	"script":   {prio: kernel.PrioRT, period: 250 * time.Millisecond, entry: (*System).script},
	"crash":    {prio: kernel.Low, entry: (*System).crash},
}

// TaskNames lists the tasks ParseBootList accepts.
func TaskNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseBootList parses a shell-quoted list of task names. Each entry may
// override the default priority with a suffix, as in "producer:high" or
// "'ps:rt'".
func ParseBootList(s string) ([]BootEntry, error) {
	words, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("boot list: %w", err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("boot list: empty")
	}
	if len(words) > kernel.MaxTasks-1 {
		return nil, fmt.Errorf("boot list: %d tasks, at most %d", len(words), kernel.MaxTasks-1)
	}

	seen := make(map[string]bool, len(words))
	out := make([]BootEntry, 0, len(words))
	for _, w := range words {
		name, prioName, hasPrio := strings.Cut(w, ":")
		ts, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("boot list: unknown task %q (have %s)", name, strings.Join(TaskNames(), ", "))
		}
		if seen[name] {
			return nil, fmt.Errorf("boot list: task %q listed twice", name)
		}
		seen[name] = true

		e := BootEntry{Name: name, Prio: ts.prio}
		if hasPrio {
			p, ok := kernel.ParsePriority(prioName)
			if !ok {
				return nil, fmt.Errorf("boot list: %s: unknown priority %q", name, prioName)
			}
			e.Prio = p
		}
		if e.Prio == kernel.PrioRT && ts.period == 0 {
			return nil, fmt.Errorf("boot list: %s has no real-time period", name)
		}
		out = append(out, e)
	}
	return out, nil
}

func hasTask(boot []BootEntry, name string) bool {
	for _, e := range boot {
		if e.Name == name {
			return true
		}
	}
	return false
}

// bootTasks turns the boot list into kernel boot tasks. Real-time entries
// boot at High and switch class before running their body.
func (s *System) bootTasks() ([]kernel.TaskInit, error) {
	tasks := make([]kernel.TaskInit, 0, len(s.cfg.Boot))
	for i, e := range s.cfg.Boot {
		ts, ok := registry[e.Name]
		if !ok {
			return nil, fmt.Errorf("app: unknown task %q", e.Name)
		}
		body := ts.entry
		ti := kernel.TaskInit{
			Name:      e.Name,
			TID:       kernel.TaskID(i + 1),
			Prio:      e.Prio,
			StackSize: ts.stack,
			Entry:     func(c *kernel.Context) { body(s, c) },
		}
		if e.Prio == kernel.PrioRT {
			if ts.period == 0 {
				return nil, fmt.Errorf("app: %s has no real-time period", e.Name)
			}
			ti.Prio = kernel.High
			ti.Entry = realTime(ts.period, ti.Entry)
		}
		tasks = append(tasks, ti)
	}
	return tasks, nil
}

func realTime(period time.Duration, body kernel.TaskFunc) kernel.TaskFunc {
	return func(c *kernel.Context) {
		if err := c.RTSet(period); err != nil {
			c.Logf("rt_set %v: %v", period, err)
			return
		}
		body(c)
	}
}
