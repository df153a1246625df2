package kernel

import "runtime"

// scheduler removes and returns the next task to run: the real-time head,
// else the head of the most urgent non-empty ready queue, else idle.
func (k *Kernel) scheduler() TaskID {
	if tid, ok := k.rtq.PopFront(); ok {
		return tid
	}
	for i := range k.ready {
		if tid, ok := k.ready[i].PopFront(); ok {
			return tid
		}
	}
	return TIDNull
}

func (k *Kernel) hasReady() bool {
	if !k.rtq.Empty() {
		return true
	}
	for i := range k.ready {
		if !k.ready[i].Empty() {
			return true
		}
	}
	return false
}

// makeReady queues a woken task at the back of its class.
func (k *Kernel) makeReady(tid TaskID) {
	t := &k.tcbs[tid]
	t.state = Ready
	if t.prio == PrioRT {
		k.rtQueueAdd(tid)
		return
	}
	k.ready[t.prio.index()].PushBack(tid)
}

// requeue puts the still-running task back before picking a successor. A
// voluntary switch goes to the back of its class; a preempted task keeps its
// place at the front.
func (k *Kernel) requeue(tid TaskID, voluntary bool) {
	t := &k.tcbs[tid]
	if t.prio == PrioRT {
		k.rtq.InsertOrdered(tid, func(h, e TaskID) bool {
			return k.tcbs[h].deadline <= k.tcbs[e].deadline
		})
		return
	}
	q := &k.ready[t.prio.index()]
	if voluntary {
		q.PushBack(tid)
	} else {
		q.PushFront(tid)
	}
}

// rtQueueAdd inserts tid after every task with an earlier or equal deadline.
func (k *Kernel) rtQueueAdd(tid TaskID) {
	if back := k.rtq.Back(); back == NoTask || k.tcbs[back].deadline <= k.tcbs[tid].deadline {
		k.rtq.PushBack(tid)
		return
	}
	k.rtq.InsertOrdered(tid, func(h, e TaskID) bool {
		return k.tcbs[h].deadline < k.tcbs[e].deadline
	})
}

// timeoutListAdd files a suspended task by its deadline. Each entry stores
// the ticks remaining after its predecessor fires, so a tick only has to
// touch the head.
func (k *Kernel) timeoutListAdd(tid TaskID) {
	t := &k.tcbs[tid]
	t.delta = t.deadline - k.now
	for e := k.timeouts.Front(); e != NoTask; e = k.timeouts.Next(e) {
		et := &k.tcbs[e]
		if t.delta < et.delta {
			et.delta -= t.delta
			k.timeouts.InsertBefore(tid, e)
			return
		}
		t.delta -= et.delta
	}
	k.timeouts.PushBack(tid)
}

// runNew picks the next task and switches to it. A current task that is
// still RUNNING is requeued first; a task that blocked itself is not.
func (k *Kernel) runNew(voluntary bool) {
	old := k.current
	ot := &k.tcbs[old]
	if ot.state == Running && old != TIDNull {
		k.requeue(old, voluntary)
	}

	next := k.scheduler()
	if next == old {
		ot.state = Running
		return
	}
	k.tcbs[next].state = Running
	if ot.state == Running {
		ot.state = Ready
	}
	k.current = next
	k.plat.SwitchTo(old, next)
}

// enter runs at the top of every kernel entry point. It applies ticks and
// keystrokes that arrived since the last entry and lets a newly released
// task preempt the caller.
func (k *Kernel) enter() {
	resched := k.drainTicks()
	if k.drainKeys() {
		resched = true
	}
	if resched {
		k.runNew(false)
	}
}

// drainTicks applies pending ticks and reports whether any task was
// released.
func (k *Kernel) drainTicks() bool {
	n := k.pendingTicks.Swap(0)
	released := false
	for ; n > 0; n-- {
		if k.tick() {
			released = true
		}
	}
	return released
}

func (k *Kernel) tick() bool {
	k.now++
	head := k.timeouts.Front()
	if head == NoTask {
		return false
	}
	if t := &k.tcbs[head]; t.delta > 0 {
		t.delta--
	}
	released := false
	for head != NoTask && k.tcbs[head].delta == 0 {
		k.timeouts.Remove(head)
		t := &k.tcbs[head]
		t.release = k.now
		t.deadline = k.now + t.period
		k.makeReady(head)
		released = true
		head = k.timeouts.Front()
	}
	return released
}

// idle is the null task. It keeps the clock moving and ends Run once no user
// task is left.
func (k *Kernel) idle(c *Context) {
	for {
		k.enter()
		// A deferred key wake-up only spares a running sender; idle always
		// yields to ready work.
		if k.hasReady() {
			k.runNew(false)
			continue
		}
		if k.active == 1 {
			k.log.Debugf("kernel: all tasks exited")
			k.halt(nil)
			k.park()
		}
		switch k.cfg.Clock {
		case ClockVirtual:
			if len(k.keys) > 0 || k.pendingTicks.Load() > 0 {
				continue
			}
			head := k.timeouts.Front()
			if head == NoTask {
				k.log.Warnf("kernel: stalled at tick %d with %d tasks blocked", k.now, k.active-1)
				k.halt(ErrStalled)
				k.park()
			}
			d := k.tcbs[head].delta
			if d == 0 {
				d = 1
			}
			k.pendingTicks.Add(d)
		default:
			select {
			case <-k.irq:
			case <-k.done:
				runtime.Goexit()
			}
		}
	}
}

// park blocks the calling task until shutdown.
func (k *Kernel) park() {
	<-k.done
	runtime.Goexit()
}
