package kernel

import (
	"time"

	"rtx/kernel/errno"
	"rtx/kernel/mem"
)

// Context is a task's handle on the kernel. Its methods are the kernel entry
// points and may only be called from the task it was handed to.
type Context struct {
	k   *Kernel
	tid TaskID
}

// TID returns the calling task's id.
func (c *Context) TID() TaskID { return c.tid }

// Errno returns the code of the calling task's most recent failure.
func (c *Context) Errno() Errno { return c.k.tcbs[c.tid].errno }

// Now returns the current tick count.
func (c *Context) Now() uint64 {
	c.k.enter()
	return c.k.now
}

// TickSize returns the length of one tick.
func (c *Context) TickSize() time.Duration { return c.k.cfg.TickSize }

// Logf writes an info line tagged with the task id.
func (c *Context) Logf(format string, params ...any) {
	c.k.log.Infof("[%d] "+format, append([]any{c.tid}, params...)...)
}

func (c *Context) result(err error) error {
	if err != nil {
		c.k.tcbs[c.tid].errno = errno.Of(err)
	}
	return err
}

// Create starts a new unprivileged task and returns its id.
func (c *Context) Create(entry TaskFunc, prio Priority, stackSize int) (TaskID, error) {
	c.k.enter()
	tid, err := c.k.create(entry, prio, stackSize)
	return tid, c.result(err)
}

// Yield lets the next task of the same priority run. Real-time tasks must
// use RTSuspend instead.
func (c *Context) Yield() error {
	c.k.enter()
	return c.result(c.k.yield())
}

// Exit ends the calling task. It does not return.
func (c *Context) Exit() {
	c.k.enter()
	c.k.exit()
}

// SetPrio changes the priority of task tid.
func (c *Context) SetPrio(tid TaskID, prio Priority) error {
	c.k.enter()
	return c.result(c.k.setPrio(tid, prio))
}

// Task returns a snapshot of task tid.
func (c *Context) Task(tid TaskID) (TaskInfo, error) {
	c.k.enter()
	ti, err := c.k.task(tid)
	return ti, c.result(err)
}

// Tasks fills buf with the ids of live tasks and returns how many it wrote.
func (c *Context) Tasks(buf []TaskID) (int, error) {
	c.k.enter()
	n, err := c.k.tasks(buf)
	return n, c.result(err)
}

// RTSet moves the calling task into the real-time class with the given
// period.
func (c *Context) RTSet(period time.Duration) error {
	c.k.enter()
	return c.result(c.k.rtSet(period))
}

// RTSuspend parks a real-time task until its next release.
func (c *Context) RTSuspend() error {
	c.k.enter()
	return c.result(c.k.rtSuspend())
}

// RTPeriod returns the period of real-time task tid.
func (c *Context) RTPeriod(tid TaskID) (time.Duration, error) {
	c.k.enter()
	d, err := c.k.rtPeriod(tid)
	return d, c.result(err)
}

// MbxCreate gives the calling task a mailbox of size bytes.
func (c *Context) MbxCreate(size int) error {
	c.k.enter()
	return c.result(c.k.mbxCreate(size))
}

// Send delivers msg to task to, blocking while its mailbox is too full.
func (c *Context) Send(to TaskID, msg []byte) error {
	c.k.enter()
	return c.result(c.k.send(to, msg))
}

// SendNB delivers msg to task to or fails without blocking.
func (c *Context) SendNB(to TaskID, msg []byte) error {
	c.k.enter()
	return c.result(c.k.sendNB(to, msg))
}

// Recv copies the next message into buf, blocking while the mailbox is
// empty, and returns its length.
func (c *Context) Recv(buf []byte) (int, error) {
	c.k.enter()
	n, err := c.k.recv(buf, true)
	return n, c.result(err)
}

// RecvNB is Recv that fails with ENOMSG instead of blocking.
func (c *Context) RecvNB(buf []byte) (int, error) {
	c.k.enter()
	n, err := c.k.recv(buf, false)
	return n, c.result(err)
}

// Mailboxes fills buf with the ids of tasks that own a mailbox.
func (c *Context) Mailboxes(buf []TaskID) (int, error) {
	c.k.enter()
	n, err := c.k.mailboxes(buf)
	return n, c.result(err)
}

// MailboxSpace returns the free bytes in task tid's mailbox.
func (c *Context) MailboxSpace(tid TaskID) (int, error) {
	c.k.enter()
	n, err := c.k.mailboxSpace(tid)
	return n, c.result(err)
}

// MemAlloc allocates size bytes from the user heap (IRAM1).
func (c *Context) MemAlloc(size int) (mem.Addr, error) {
	c.k.enter()
	if size <= 0 {
		return 0, c.result(EINVAL)
	}
	n, ok := mem.Size(size)
	if !ok {
		return 0, c.result(ENOMEM)
	}
	a, err := c.k.mem.Alloc(mem.IRAM1, n)
	return a, c.result(err)
}

// MemDealloc returns a block to the user heap.
func (c *Context) MemDealloc(a mem.Addr) error {
	c.k.enter()
	return c.result(c.k.mem.Dealloc(mem.IRAM1, a))
}

// MemDump logs the free blocks of pool id and returns how many there are.
func (c *Context) MemDump(id mem.PoolID) int {
	c.k.enter()
	return c.k.mem.Dump(id)
}

// Bytes returns the n bytes of simulated memory at a.
func (c *Context) Bytes(a mem.Addr, n int) ([]byte, error) {
	size, ok := mem.Size(n)
	if !ok {
		return nil, c.result(EINVAL)
	}
	b, err := c.k.mem.Bytes(a, size)
	return b, c.result(err)
}
