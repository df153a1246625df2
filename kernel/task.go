package kernel

import (
	"encoding/binary"
	"time"

	"rtx/kernel/mem"
)

// Fabricated register values.
const (
	// InitialXPSR has only the Thumb bit set.
	InitialXPSR uint32 = 0x01000000
	// ResumeVector is the kernel return address of a task that never ran.
	ResumeVector uint32 = 0x00000F01
	// EntryVectorBase is the first task entry vector; slot n uses base+4n.
	EntryVectorBase uint32 = 0x00001001

	controlNPriv uint32 = 1 << 0

	userFrameWords = 8
	kernFrameWords = 12
)

// EntryVector returns the program counter stored in the initial frame of
// slot tid.
func EntryVector(tid TaskID) uint32 {
	return EntryVectorBase + uint32(tid)<<2
}

// push writes words downward from top, first word highest, and returns the
// new stack pointer.
func (k *Kernel) push(top mem.Addr, words ...uint32) mem.Addr {
	sp := top - mem.Addr(4*len(words))
	b, err := k.mem.Bytes(sp, uint32(4*len(words)))
	if err != nil {
		panic("kernel: stack outside memory: " + err.Error())
	}
	for i, w := range words {
		off := 4 * (len(words) - 1 - i)
		binary.LittleEndian.PutUint32(b[off:], w)
	}
	return sp
}

// createNew allocates the stacks of slot tid and fabricates the two initial
// frames: a user exception frame whose PC is the entry vector and a kernel
// frame that returns through ResumeVector.
func (k *Kernel) createNew(ti TaskInit, tid TaskID) error {
	uSize := uint32(MinStackSize)
	if ti.StackSize > MinStackSize {
		n, ok := mem.Size(ti.StackSize)
		if !ok {
			return ENOMEM
		}
		uSize = n
	}
	uBase, err := k.mem.AllocStack(uSize)
	if err != nil {
		return ENOMEM
	}
	kBase, err := k.mem.AllocStack(KernStackSize)
	if err != nil {
		_ = k.mem.FreeStack(uBase, uSize)
		return ENOMEM
	}

	t := &k.tcbs[tid]
	*t = tcb{
		tid:        tid,
		name:       ti.Name,
		prio:       ti.Prio,
		priv:       ti.Priv,
		entry:      ti.Entry,
		entryPC:    EntryVector(tid),
		uStackSize: uSize,
		kStackSize: KernStackSize,
		uSPBase:    uBase,
		kSPBase:    kBase,
		mbxGen:     t.mbxGen,
		blockedOn:  NoTask,
		prev:       NoTask,
		next:       NoTask,
	}

	// xPSR, PC, LR, R12, R3, R2, R1, R0
	t.uSP = k.push(uBase, InitialXPSR, t.entryPC, 0, 0, 0, 0, 0, 0)

	control := controlNPriv
	if ti.Priv {
		control = 0
	}
	// kLR, R4-R12, PSP, CONTROL
	t.kSP = k.push(kBase, ResumeVector, 0, 0, 0, 0, 0, 0, 0, 0, 0, uint32(t.uSP), control)

	entry := ti.Entry
	k.plat.Spawn(tid, func() { k.taskMain(tid, entry) })
	t.state = Ready
	k.log.Debugf("task %d (%s): created, prio %s, stack %d", tid, ti.Name, ti.Prio, uSize)
	return nil
}

func (k *Kernel) taskMain(tid TaskID, entry TaskFunc) {
	defer k.recoverTask(tid)
	entry(&Context{k: k, tid: tid})
	k.exit()
}

func (k *Kernel) create(entry TaskFunc, prio Priority, stackSize int) (TaskID, error) {
	if entry == nil || !prio.static() || stackSize < 0 {
		return NoTask, EINVAL
	}
	tid := k.freeSlot()
	if tid == NoTask {
		return NoTask, EAGAIN
	}
	if err := k.createNew(TaskInit{Prio: prio, StackSize: stackSize, Entry: entry}, tid); err != nil {
		return NoTask, err
	}
	k.ready[prio.index()].PushBack(tid)
	k.active++
	k.runNew(false)
	return tid, nil
}

func (k *Kernel) yield() error {
	if k.tcbs[k.current].prio == PrioRT {
		return EPERM
	}
	k.runNew(true)
	return nil
}

// exit releases everything the current task owns and switches away for
// good.
func (k *Kernel) exit() {
	tid := k.current
	t := &k.tcbs[tid]
	k.log.Debugf("task %d (%s): exit", tid, t.name)

	k.destroyMailbox(t)
	if err := k.mem.FreeStack(t.uSPBase, t.uStackSize); err != nil {
		k.log.Errorf("task %d: free user stack: %v", tid, err)
	}
	if err := k.mem.FreeStack(t.kSPBase, t.kStackSize); err != nil {
		k.log.Errorf("task %d: free kernel stack: %v", tid, err)
	}
	t.state = Dormant
	t.pending = nil
	t.blockedOn = NoTask
	k.active--

	next := k.scheduler()
	k.tcbs[next].state = Running
	k.current = next
	k.plat.Discard(tid, next)
}

func (k *Kernel) setPrio(tid TaskID, prio Priority) error {
	if !k.validTID(tid) {
		return EINVAL
	}
	t := &k.tcbs[tid]
	if t.state == Dormant || t.prio == prio {
		return nil
	}
	caller := &k.tcbs[k.current]
	if (t.priv && !caller.priv) || (prio == PrioRT) != (t.prio == PrioRT) {
		return EPERM
	}
	if !prio.static() || tid == TIDNull {
		return EINVAL
	}

	old := t.prio
	switch t.state {
	case BlockedSend:
		mb := k.tcbs[t.blockedOn].mbx
		mb.wait[old.index()].Remove(tid)
		t.prio = prio
		mb.wait[prio.index()].PushBack(tid)
	case BlockedRecv:
		t.prio = prio
	case Running:
		t.prio = prio
		k.runNew(true)
	default:
		k.ready[old.index()].Remove(tid)
		t.prio = prio
		k.ready[prio.index()].PushBack(tid)
		k.runNew(false)
	}
	return nil
}

func (k *Kernel) task(tid TaskID) (TaskInfo, error) {
	if !k.validTID(tid) {
		return TaskInfo{}, EINVAL
	}
	return k.info(&k.tcbs[tid]), nil
}

func (k *Kernel) tasks(buf []TaskID) (int, error) {
	if len(buf) == 0 {
		return 0, EFAULT
	}
	n := 0
	for i := range k.tcbs {
		if n == len(buf) {
			break
		}
		if k.tcbs[i].state != Dormant {
			buf[n] = TaskID(i)
			n++
		}
	}
	return n, nil
}

func (k *Kernel) rtSet(period time.Duration) error {
	t := &k.tcbs[k.current]
	if t.prio == PrioRT {
		return EPERM
	}
	if period < 0 || period%time.Microsecond != 0 {
		return EINVAL
	}
	usec := period.Microseconds()
	if usec != 0 && usec%(k.tickUsec*int64(k.cfg.MinPeriodTicks)) != 0 {
		return EINVAL
	}
	if k.current == TIDNull {
		return EPERM
	}

	t.prio = PrioRT
	t.period = uint64(usec / k.tickUsec)
	t.release = k.now
	t.deadline = k.now + t.period
	k.log.Debugf("task %d: real-time, period %d ticks", t.tid, t.period)
	k.runNew(false)
	return nil
}

func (k *Kernel) rtSuspend() error {
	t := &k.tcbs[k.current]
	if t.prio != PrioRT {
		return EPERM
	}
	if t.deadline >= k.now {
		t.state = Suspended
		k.timeoutListAdd(t.tid)
		k.runNew(false)
		return nil
	}

	k.log.Infof("task %d: missed deadline %d at tick %d", t.tid, t.deadline, k.now)
	t.release = k.now
	t.deadline = k.now + t.period
	k.makeReady(t.tid)
	k.runNew(false)
	return nil
}

func (k *Kernel) rtPeriod(tid TaskID) (time.Duration, error) {
	if !k.validTID(tid) || k.tcbs[tid].prio != PrioRT {
		return 0, EINVAL
	}
	if k.tcbs[k.current].prio != PrioRT {
		return 0, EPERM
	}
	return time.Duration(k.tcbs[tid].period) * k.cfg.TickSize, nil
}
