package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"rtx/kernel/proto"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) add(format string, params ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, params...))
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, " ")
}

func newKernel(t *testing.T, cfg Config) *Kernel {
	t.Helper()
	k, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k
}

// boot builds a kernel on the virtual clock and creates the boot tasks.
func boot(t *testing.T, cfg Config, tasks ...TaskInit) *Kernel {
	t.Helper()
	cfg.Clock = ClockVirtual
	k := newKernel(t, cfg)
	if err := k.Init(tasks); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return k
}

func run(t *testing.T, k *Kernel) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := k.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run timed out")
	}
	return err
}

func mustRun(t *testing.T, k *Kernel) {
	t.Helper()
	if err := run(t, k); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func expect(t *testing.T, rec *recorder, want string) {
	t.Helper()
	if got := rec.String(); got != want {
		t.Fatalf("trace:\n got %q\nwant %q", got, want)
	}
}

func msgOf(n int, fill byte) []byte {
	payload := make([]byte, n-proto.HeaderSize)
	for i := range payload {
		payload[i] = fill
	}
	return proto.Message(0, proto.Default, payload)
}

func ti(name string, prio Priority, entry TaskFunc) TaskInit {
	return TaskInit{Name: name, Prio: prio, Entry: entry}
}

func TestRunRequiresInit(t *testing.T) {
	k := newKernel(t, Config{})
	if err := k.Run(context.Background()); err != ErrNotInitialized {
		t.Fatalf("Run err = %v, want ErrNotInitialized", err)
	}
}

func TestInitRejectsTooManyTasks(t *testing.T) {
	k := newKernel(t, Config{})
	tasks := make([]TaskInit, MaxTasks)
	for i := range tasks {
		tasks[i] = ti("t", Low, func(*Context) {})
	}
	if err := k.Init(tasks); !errors.Is(err, EINVAL) {
		t.Fatalf("Init err = %v, want EINVAL", err)
	}
}

func TestNewRejectsBadLayout(t *testing.T) {
	cfg := Config{}
	cfg.Layout.IRAM1.Start = 0x1000
	cfg.Layout.IRAM1.End = 0x1100 + 3
	cfg.Layout.IRAM2.Start = 0x8000
	cfg.Layout.IRAM2.End = 0x9000
	if _, err := New(cfg); err == nil {
		t.Fatalf("New accepted a broken layout")
	}
}

func TestPriorityOrderAndFIFO(t *testing.T) {
	rec := &recorder{}
	step := func(name string) TaskFunc {
		return func(c *Context) {
			rec.add("%s1", name)
			if err := c.Yield(); err != nil {
				t.Errorf("%s: Yield: %v", name, err)
			}
			rec.add("%s2", name)
		}
	}
	k := boot(t, Config{},
		ti("a", Medium, step("a")),
		ti("b", Medium, step("b")),
		ti("c", High, step("c")),
		ti("d", Lowest, step("d")),
	)
	mustRun(t, k)
	expect(t, rec, "c1 c2 a1 b1 a2 b2 d1 d2")
}

func TestStalledUnderVirtualClock(t *testing.T) {
	k := boot(t, Config{}, ti("waiter", High, func(c *Context) {
		if err := c.MbxCreate(32); err != nil {
			t.Errorf("MbxCreate: %v", err)
		}
		buf := make([]byte, 32)
		c.Recv(buf)
	}))
	if err := run(t, k); err != ErrStalled {
		t.Fatalf("Run err = %v, want ErrStalled", err)
	}
}

func TestTaskPanicIsCaptured(t *testing.T) {
	var got *TaskPanic
	k := boot(t, Config{OnPanic: func(p *TaskPanic) { got = p }},
		ti("bad", High, func(c *Context) {
			panic("boom")
		}),
	)
	err := run(t, k)
	var tp *TaskPanic
	if !errors.As(err, &tp) {
		t.Fatalf("Run err = %v, want *TaskPanic", err)
	}
	if tp.TaskID != 1 || tp.Value != "boom" || len(tp.Stack) == 0 {
		t.Fatalf("panic = %+v", tp)
	}
	if got != tp {
		t.Fatalf("OnPanic got %v, want %v", got, tp)
	}
	if !k.InPanicMode() {
		t.Fatalf("kernel not in panic mode")
	}
}

func TestExternalClockDrivesRealTimeTask(t *testing.T) {
	k := newKernel(t, Config{Clock: ClockExternal})
	releases := 0
	if err := k.Init([]TaskInit{ti("rt", High, func(c *Context) {
		if err := c.RTSet(2 * DefaultTickSize); err != nil {
			t.Errorf("RTSet: %v", err)
			return
		}
		for releases < 3 {
			releases++
			c.RTSuspend()
		}
	})}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				k.Tick()
			}
		}
	}()
	if err := k.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if releases != 3 {
		t.Fatalf("releases = %d, want 3", releases)
	}
}

func TestRelayedKeyWakesIdleSystem(t *testing.T) {
	k := newKernel(t, Config{Clock: ClockExternal, KeyRelayTo: 1})
	var got []byte
	if err := k.Init([]TaskInit{ti("echo", High, func(c *Context) {
		if err := c.MbxCreate(64); err != nil {
			t.Errorf("MbxCreate: %v", err)
			return
		}
		buf := make([]byte, 64)
		n, err := c.Recv(buf)
		if err != nil {
			t.Errorf("Recv: %v", err)
			return
		}
		got = append(got, proto.Payload(buf[:n])...)
	})}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// No ticks arrive: only the keystroke can move the system on.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		tk := time.NewTicker(time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				k.RelayKey('q')
			}
		}
	}()
	err := k.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("echo never received the relayed key")
	}
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(got) != "q" {
		t.Fatalf("echo got %q, want %q", got, "q")
	}
}

func TestPriorityRanking(t *testing.T) {
	order := []Priority{PrioRT, High, Medium, Low, Lowest, PrioNull}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Fatalf("%v ranks after %v", order[i-1], order[i])
		}
	}
	for i, p := range order[1:5] {
		if !p.static() || p.index() != i {
			t.Fatalf("%v: static %v index %d, want queue %d", p, p.static(), p.index(), i)
		}
	}
	if PrioRT.static() || PrioNull.static() {
		t.Fatalf("rt or null counted as a static class")
	}
	for _, p := range order[:5] {
		if got, ok := ParsePriority(p.String()); !ok || got != p {
			t.Fatalf("ParsePriority(%q) = %v, %v", p.String(), got, ok)
		}
	}
}
