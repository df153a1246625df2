package kernel

import (
	"rtx/internal/dlist"
	"rtx/kernel/mailbox"
	"rtx/kernel/mem"
	"rtx/kernel/proto"
)

// mbox is a task's mailbox: a ring in IRAM2 plus the senders waiting for
// room in it.
type mbox struct {
	addr   mem.Addr
	ring   *mailbox.Ring
	wait   [staticClasses]dlist.List[TaskID]
	rtWait dlist.List[TaskID]
}

func (k *Kernel) mbxCreate(size int) error {
	t := &k.tcbs[k.current]
	if t.mbx != nil {
		return EEXIST
	}
	if size < proto.MinMsgSize {
		return EINVAL
	}
	n, ok := mem.Size(size)
	if !ok {
		return ENOMEM
	}
	addr, err := k.mem.Alloc(mem.IRAM2, n)
	if err != nil {
		return ENOMEM
	}
	buf, err := k.mem.Bytes(addr, n)
	if err != nil {
		_ = k.mem.Dealloc(mem.IRAM2, addr)
		return ENOMEM
	}

	links := taskLinks{tcbs: &k.tcbs}
	mb := &mbox{addr: addr, ring: mailbox.New(buf)}
	for i := range mb.wait {
		mb.wait[i] = dlist.New[TaskID](links, NoTask)
	}
	mb.rtWait = dlist.New[TaskID](links, NoTask)
	t.mbx = mb
	k.log.Debugf("task %d: mailbox of %d bytes at %#x", t.tid, size, uint32(addr))
	return nil
}

// destroyMailbox frees t's mailbox and wakes every sender blocked on it.
// The woken senders see the generation change and fail with ENOENT.
func (k *Kernel) destroyMailbox(t *tcb) {
	mb := t.mbx
	if mb == nil {
		return
	}
	for tid, ok := mb.rtWait.PopFront(); ok; tid, ok = mb.rtWait.PopFront() {
		k.makeReady(tid)
	}
	for i := range mb.wait {
		for tid, ok := mb.wait[i].PopFront(); ok; tid, ok = mb.wait[i].PopFront() {
			k.makeReady(tid)
		}
	}
	if err := k.mem.Dealloc(mem.IRAM2, mb.addr); err != nil {
		k.log.Errorf("task %d: free mailbox: %v", t.tid, err)
	}
	t.mbx = nil
	t.mbxGen++
}

// checkMsg validates msg for delivery to to and returns its length.
func (k *Kernel) checkMsg(to TaskID, msg []byte) (uint32, *mbox, error) {
	h, ok := proto.DecodeHeader(msg)
	if !ok {
		return 0, nil, EFAULT
	}
	if !k.validTID(to) || h.Length < proto.MinMsgSize || int(h.Length) > len(msg) {
		return 0, nil, EINVAL
	}
	mb := k.tcbs[to].mbx
	if mb == nil {
		return 0, nil, ENOENT
	}
	return h.Length, mb, nil
}

// wakeReceiver readies to if it is waiting for a message and reports whether
// it did.
func (k *Kernel) wakeReceiver(to TaskID) bool {
	if k.tcbs[to].state != BlockedRecv {
		return false
	}
	k.makeReady(to)
	return true
}

func (k *Kernel) send(to TaskID, msg []byte) error {
	n, mb, err := k.checkMsg(to, msg)
	if err != nil {
		return err
	}
	if n > mb.ring.Cap() {
		return EMSGSIZE
	}

	t := &k.tcbs[k.current]
	gen := k.tcbs[to].mbxGen
	for !mb.ring.Fits(n) {
		t.state = BlockedSend
		t.pending = msg[:n]
		t.blockedOn = to
		if t.prio == PrioRT {
			mb.rtWait.InsertOrdered(t.tid, func(h, e TaskID) bool {
				return k.tcbs[h].deadline < k.tcbs[e].deadline
			})
		} else {
			mb.wait[t.prio.index()].PushBack(t.tid)
		}
		k.runNew(false)

		t.blockedOn = NoTask
		if t.pending == nil {
			// absorbed by the receiver
			return nil
		}
		rt := &k.tcbs[to]
		if rt.mbx != mb || rt.mbxGen != gen {
			t.pending = nil
			return ENOENT
		}
	}

	mb.ring.Put(msg[:n])
	if k.wakeReceiver(to) {
		k.runNew(false)
	}
	return nil
}

// deliverNB copies msg into to's mailbox without blocking and reports
// whether that woke the receiver.
func (k *Kernel) deliverNB(to TaskID, msg []byte) (bool, error) {
	n, mb, err := k.checkMsg(to, msg)
	if err != nil {
		return false, err
	}
	if n > mb.ring.Cap() {
		return false, ENOSPC
	}
	if !mb.ring.Fits(n) {
		return false, EMSGSIZE
	}
	mb.ring.Put(msg[:n])
	return k.wakeReceiver(to), nil
}

// deferResched reports whether waking a receiver with kind skips the
// reschedule.
func (k *Kernel) deferResched(kind proto.Kind) bool {
	return kind == proto.KeyIn && k.cfg.SendPolicy == SendPolicyDeferKeyRelay
}

func (k *Kernel) sendNB(to TaskID, msg []byte) error {
	woke, err := k.deliverNB(to, msg)
	if err != nil {
		return err
	}
	if woke && !k.deferResched(proto.Kind(msg[5])) {
		k.runNew(false)
	}
	return nil
}

func (k *Kernel) recv(buf []byte, block bool) (int, error) {
	if len(buf) == 0 {
		return 0, EFAULT
	}
	t := &k.tcbs[k.current]
	if t.mbx == nil {
		return 0, ENOENT
	}
	mb := t.mbx

	for mb.ring.Empty() {
		if !block {
			return 0, ENOMSG
		}
		t.state = BlockedRecv
		k.runNew(false)
	}

	n := mb.ring.Peek()
	if n > uint32(len(buf)) {
		return 0, ENOSPC
	}
	mb.ring.Get(buf)
	k.absorbWaiters(mb)
	k.runNew(false)
	return int(n), nil
}

// absorbWaiters moves every blocked sender whose message fits now into the
// ring, real-time senders first, then High to Lowest.
func (k *Kernel) absorbWaiters(mb *mbox) {
	absorb := func(q *dlist.List[TaskID]) {
		q.Each(func(tid TaskID) bool {
			s := &k.tcbs[tid]
			if !mb.ring.Fits(uint32(len(s.pending))) {
				return true
			}
			mb.ring.Put(s.pending)
			s.pending = nil
			q.Remove(tid)
			k.makeReady(tid)
			return true
		})
	}
	absorb(&mb.rtWait)
	for i := range mb.wait {
		absorb(&mb.wait[i])
	}
}

func (k *Kernel) mailboxes(buf []TaskID) (int, error) {
	if len(buf) == 0 {
		return 0, EFAULT
	}
	n := 0
	for i := range k.tcbs {
		if n == len(buf) {
			break
		}
		if k.tcbs[i].mbx != nil {
			buf[n] = TaskID(i)
			n++
		}
	}
	return n, nil
}

func (k *Kernel) mailboxSpace(tid TaskID) (int, error) {
	if !k.validTID(tid) {
		return 0, EINVAL
	}
	mb := k.tcbs[tid].mbx
	if mb == nil {
		return 0, ENOENT
	}
	return int(mb.ring.Space()), nil
}

// drainKeys delivers queued keystrokes to Config.KeyRelayTo through the
// non-blocking send path. It reports whether a reschedule is due.
func (k *Kernel) drainKeys() bool {
	resched := false
	for {
		select {
		case r := <-k.keys:
			to := k.cfg.KeyRelayTo
			if to == TIDNull {
				continue
			}
			msg := proto.Message(uint8(TIDUART), proto.KeyIn, proto.KeyInPayload(r))
			woke, err := k.deliverNB(to, msg)
			if err != nil {
				k.log.Debugf("key relay %q -> %d dropped: %v", r, to, err)
				continue
			}
			if woke && !k.deferResched(proto.KeyIn) {
				resched = true
			}
		default:
			return resched
		}
	}
}
