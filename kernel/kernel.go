// Package kernel is a preemptible real-time kernel core.
//
// Tasks are ordinary Go functions that receive a *Context. A Platform hands
// a single execution token between task goroutines, so exactly one task runs
// at a time and all kernel state is touched by the token holder only. Timer
// ticks and keystrokes arrive from other goroutines through Tick and
// RelayKey and are folded in at the next kernel entry.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rtx/internal/dlist"
	"rtx/internal/klog"
	"rtx/kernel/mem"
)

const (
	// MaxTasks is the size of the task table, idle task included.
	MaxTasks = 16

	// MinStackSize is the smallest user stack handed to a task.
	MinStackSize = 512
	// KernStackSize is the size of every kernel stack.
	KernStackSize = 512

	// DefaultTickSize is the scheduler tick length.
	DefaultTickSize = 500 * time.Microsecond
	// DefaultMinPeriodTicks is the smallest real-time period, in ticks.
	DefaultMinPeriodTicks = 1

	keyQueueLen = 64
)

// TaskID indexes the task table.
type TaskID uint8

const (
	// TIDNull is the idle task.
	TIDNull TaskID = 0
	// TIDUART is the sender id stamped on relayed keystrokes.
	TIDUART TaskID = 0xFE
	// NoTask terminates task lists.
	NoTask TaskID = 0xFF
)

// Priority is a scheduling class. Classes are ranked in declaration order,
// most urgent first.
type Priority uint8

const (
	// PrioRT is the real-time class, ordered by deadline.
	PrioRT Priority = iota
	// High through Lowest are the static classes, round robin within each.
	High
	Medium
	Low
	Lowest
	// PrioNull belongs to the idle task alone.
	PrioNull
)

// staticClasses is the number of static classes, High through Lowest.
const staticClasses = int(Lowest-High) + 1

func (p Priority) String() string {
	switch p {
	case PrioRT:
		return "rt"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	case Lowest:
		return "lowest"
	case PrioNull:
		return "null"
	default:
		return fmt.Sprintf("prio(%#x)", uint8(p))
	}
}

// ParsePriority maps the names printed by Priority.String back to values.
func ParsePriority(s string) (Priority, bool) {
	for _, p := range []Priority{PrioRT, High, Medium, Low, Lowest} {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

func (p Priority) static() bool { return p >= High && p <= Lowest }

// index is the rank of a static class, 0 for High.
func (p Priority) index() int {
	switch p {
	case High:
		return 0
	case Medium:
		return 1
	case Low:
		return 2
	case Lowest:
		return 3
	}
	panic(fmt.Sprintf("kernel: %v has no static queue", p))
}

// State is a task lifecycle state.
type State uint8

const (
	// Dormant slots hold no task.
	Dormant State = iota
	Ready
	Running
	// BlockedSend waits for room in the receiver's mailbox.
	BlockedSend
	// BlockedRecv waits for a message in its own mailbox.
	BlockedRecv
	// Suspended real-time tasks wait for their next release.
	Suspended
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "dormant"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case BlockedSend:
		return "blocked_send"
	case BlockedRecv:
		return "blocked_recv"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// ClockMode selects where time comes from.
type ClockMode uint8

const (
	// ClockExternal advances time only through Tick. The idle task waits for
	// the next tick or keystroke.
	ClockExternal ClockMode = iota
	// ClockVirtual lets the idle task jump straight to the next release.
	ClockVirtual
)

// SendPolicy controls rescheduling after a non-blocking send wakes its
// receiver.
type SendPolicy uint8

const (
	// SendPolicyDeferKeyRelay skips the reschedule for KeyIn messages.
	SendPolicyDeferKeyRelay SendPolicy = iota
	// SendPolicyAlwaysResched reschedules for every message type.
	SendPolicyAlwaysResched
)

// TaskFunc is a task entry point. Returning from it exits the task.
type TaskFunc func(*Context)

// TaskInit describes a boot task.
type TaskInit struct {
	Name string
	// TID pins the task to a slot. Zero picks the lowest free slot.
	TID       TaskID
	Prio      Priority
	Priv      bool
	StackSize int
	Entry     TaskFunc
}

// TaskInfo is a snapshot of a task control block.
type TaskInfo struct {
	TID           TaskID
	Name          string
	Prio          Priority
	Priv          bool
	State         State
	EntryPC       uint32
	UserStackSize uint32
	KernStackSize uint32
	UserSPBase    mem.Addr
	KernSPBase    mem.Addr
	UserSP        mem.Addr
	KernSP        mem.Addr
	Period        time.Duration
}

var (
	// ErrStalled is returned by Run under ClockVirtual when every task is
	// blocked and no timeout is pending.
	ErrStalled = errors.New("kernel: stalled, every task is blocked")
	// ErrNotInitialized is returned by Run before Init.
	ErrNotInitialized = errors.New("kernel: not initialized")
	// ErrAlreadyStarted is returned by a second Init or Run.
	ErrAlreadyStarted = errors.New("kernel: already started")
)

// Config configures a Kernel. Zero values select the defaults.
type Config struct {
	Logger         *klog.Logger
	Layout         mem.Layout
	Clock          ClockMode
	TickSize       time.Duration
	MinPeriodTicks int
	SendPolicy     SendPolicy
	// KeyRelayTo receives relayed keystrokes. TIDNull disables the relay.
	KeyRelayTo TaskID
	// OnPanic is called once, from the panicking task, before Run returns.
	OnPanic  func(*TaskPanic)
	Platform Platform
}

type tcb struct {
	tid     TaskID
	name    string
	prio    Priority
	priv    bool
	state   State
	entry   TaskFunc
	entryPC uint32

	uStackSize uint32
	kStackSize uint32
	uSPBase    mem.Addr
	kSPBase    mem.Addr
	uSP        mem.Addr
	kSP        mem.Addr

	mbx    *mbox
	mbxGen uint32

	period   uint64 // ticks
	release  uint64
	deadline uint64 // absolute tick
	delta    uint64 // ticks after the previous timeout-list entry

	pending   []byte
	blockedOn TaskID

	errno Errno

	prev, next TaskID
}

// taskLinks stores list links inside the task table.
type taskLinks struct{ tcbs *[MaxTasks]tcb }

func (l taskLinks) Link(h TaskID) (prev, next TaskID) {
	t := &l.tcbs[h]
	return t.prev, t.next
}

func (l taskLinks) SetLink(h, prev, next TaskID) {
	t := &l.tcbs[h]
	t.prev, t.next = prev, next
}

// Kernel is the task table, scheduler and IPC state.
type Kernel struct {
	cfg  Config
	log  *klog.Logger
	mem  *mem.Memory
	plat Platform

	tcbs    [MaxTasks]tcb
	current TaskID
	active  int

	ready    [staticClasses]dlist.List[TaskID]
	rtq      dlist.List[TaskID]
	timeouts dlist.List[TaskID]

	now      uint64
	tickUsec int64

	pendingTicks atomic.Uint64
	irq          chan struct{}
	keys         chan rune

	initialized bool
	started     atomic.Bool
	done        chan struct{}
	stopOnce    sync.Once
	halted      chan error
	haltOnce    sync.Once

	panicActive atomic.Bool
	panicOnce   sync.Once
}

// New builds a kernel and initializes both memory pools. A pool that cannot
// be created aborts startup with an error.
func New(cfg Config) (*Kernel, error) {
	if cfg.Layout == (mem.Layout{}) {
		cfg.Layout = mem.DefaultLayout
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = DefaultTickSize
	}
	if cfg.MinPeriodTicks <= 0 {
		cfg.MinPeriodTicks = DefaultMinPeriodTicks
	}
	if cfg.TickSize%time.Microsecond != 0 {
		return nil, fmt.Errorf("kernel: tick size %v is not a whole number of microseconds", cfg.TickSize)
	}

	m, err := mem.New(cfg.Layout, cfg.Logger)
	if err != nil {
		return nil, err
	}
	if err := m.Init(mem.Buddy); err != nil {
		return nil, fmt.Errorf("kernel: memory init: %w", err)
	}

	k := &Kernel{
		cfg:      cfg,
		log:      cfg.Logger,
		mem:      m,
		plat:     cfg.Platform,
		tickUsec: cfg.TickSize.Microseconds(),
		irq:      make(chan struct{}, 1),
		keys:     make(chan rune, keyQueueLen),
		done:     make(chan struct{}),
		halted:   make(chan error, 1),
	}
	if k.plat == nil {
		k.plat = NewChanPlatform()
	}
	links := taskLinks{tcbs: &k.tcbs}
	for i := range k.ready {
		k.ready[i] = dlist.New[TaskID](links, NoTask)
	}
	k.rtq = dlist.New[TaskID](links, NoTask)
	k.timeouts = dlist.New[TaskID](links, NoTask)
	for i := range k.tcbs {
		k.tcbs[i] = tcb{tid: TaskID(i), prev: NoTask, next: NoTask, blockedOn: NoTask}
	}
	return k, nil
}

// Memory exposes the allocator, mainly for diagnostics.
func (k *Kernel) Memory() *mem.Memory { return k.mem }

// TickSize returns the configured tick length.
func (k *Kernel) TickSize() time.Duration { return k.cfg.TickSize }

// Init creates the idle task and the boot tasks. Boot tasks start READY; none
// runs before Run.
func (k *Kernel) Init(tasks []TaskInit) error {
	if k.initialized {
		return ErrAlreadyStarted
	}
	if len(tasks) > MaxTasks-1 {
		return fmt.Errorf("kernel: %d boot tasks, at most %d: %w", len(tasks), MaxTasks-1, EINVAL)
	}

	idle := TaskInit{Name: "null", TID: TIDNull, Prio: PrioNull, Priv: true, StackSize: MinStackSize, Entry: k.idle}
	if err := k.createNew(idle, TIDNull); err != nil {
		return fmt.Errorf("kernel: idle task: %w", err)
	}
	k.tcbs[TIDNull].state = Running
	k.current = TIDNull
	k.active = 1

	for i, ti := range tasks {
		if ti.Entry == nil || !ti.Prio.static() {
			return fmt.Errorf("kernel: boot task %d (%s): %w", i, ti.Name, EINVAL)
		}
		tid := ti.TID
		if tid == TIDNull {
			tid = k.freeSlot()
		}
		if tid == NoTask || tid >= MaxTasks || k.tcbs[tid].state != Dormant {
			return fmt.Errorf("kernel: boot task %d (%s): no slot: %w", i, ti.Name, EAGAIN)
		}
		if err := k.createNew(ti, tid); err != nil {
			return fmt.Errorf("kernel: boot task %d (%s): %w", i, ti.Name, err)
		}
		k.ready[ti.Prio.index()].PushBack(tid)
		k.active++
	}
	k.initialized = true
	return nil
}

// Run starts the first task and blocks until every user task has exited,
// the virtual clock stalls, a task panics, or ctx ends.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.initialized {
		return ErrNotInitialized
	}
	if !k.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer k.shutdown()

	k.log.Debugf("kernel: boot, %d active tasks", k.active)
	next := k.scheduler()
	k.tcbs[TIDNull].state = Ready
	k.tcbs[next].state = Running
	k.current = next
	k.plat.Restore(next)

	select {
	case err := <-k.halted:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick records one timer interrupt. It is safe from any goroutine.
func (k *Kernel) Tick() {
	k.pendingTicks.Add(1)
	k.kick()
}

// RelayKey queues a keystroke for Config.KeyRelayTo. It is safe from any
// goroutine and reports false when the queue is full.
func (k *Kernel) RelayKey(r rune) bool {
	select {
	case k.keys <- r:
		k.kick()
		return true
	default:
		return false
	}
}

func (k *Kernel) kick() {
	select {
	case k.irq <- struct{}{}:
	default:
	}
}

func (k *Kernel) halt(err error) {
	k.haltOnce.Do(func() {
		k.halted <- err
	})
}

func (k *Kernel) shutdown() {
	k.stopOnce.Do(func() {
		close(k.done)
		k.plat.Stop()
	})
}

func (k *Kernel) freeSlot() TaskID {
	for tid := TaskID(1); tid < MaxTasks; tid++ {
		if k.tcbs[tid].state == Dormant {
			return tid
		}
	}
	return NoTask
}

func (k *Kernel) validTID(tid TaskID) bool { return tid < MaxTasks }

func (k *Kernel) info(t *tcb) TaskInfo {
	ti := TaskInfo{
		TID:           t.tid,
		Name:          t.name,
		Prio:          t.prio,
		Priv:          t.priv,
		State:         t.state,
		EntryPC:       t.entryPC,
		UserStackSize: t.uStackSize,
		KernStackSize: t.kStackSize,
		UserSPBase:    t.uSPBase,
		KernSPBase:    t.kSPBase,
		UserSP:        t.uSP,
		KernSP:        t.kSP,
	}
	if t.prio == PrioRT {
		ti.Period = time.Duration(t.period) * k.cfg.TickSize
	}
	return ti
}
