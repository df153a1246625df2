package kernel

import (
	"runtime"
	"sync"
)

// Platform is the context-switch contract. Exactly one task holds the
// execution token at a time; the kernel only calls these methods from the
// token holder, except Restore and Stop which Run calls.
type Platform interface {
	// Spawn installs the initial context of tid. entry runs the first time
	// tid is switched to.
	Spawn(tid TaskID, entry func())
	// Restore starts to without saving any context.
	Restore(to TaskID)
	// SwitchTo saves from, starts to, and returns once from is resumed.
	SwitchTo(from, to TaskID)
	// Discard starts to and drops from. It does not return.
	Discard(from, to TaskID)
	// Stop releases every parked context.
	Stop()
}

// ChanPlatform runs each task on its own goroutine and hands the token over
// per-task channels.
type ChanPlatform struct {
	resume [MaxTasks]chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewChanPlatform returns the default goroutine platform.
func NewChanPlatform() *ChanPlatform {
	return &ChanPlatform{done: make(chan struct{})}
}

func (p *ChanPlatform) Spawn(tid TaskID, entry func()) {
	ch := make(chan struct{})
	p.resume[tid] = ch
	go func() {
		p.park(ch)
		entry()
	}()
}

func (p *ChanPlatform) Restore(to TaskID) {
	select {
	case p.resume[to] <- struct{}{}:
	case <-p.done:
	}
}

func (p *ChanPlatform) SwitchTo(from, to TaskID) {
	self := p.resume[from]
	p.hand(to)
	p.park(self)
}

func (p *ChanPlatform) Discard(from, to TaskID) {
	p.hand(to)
	runtime.Goexit()
}

func (p *ChanPlatform) Stop() {
	p.once.Do(func() { close(p.done) })
}

// hand gives the token to tid. A stopped platform ends the calling task.
func (p *ChanPlatform) hand(tid TaskID) {
	select {
	case p.resume[tid] <- struct{}{}:
	case <-p.done:
		runtime.Goexit()
	}
}

func (p *ChanPlatform) park(ch chan struct{}) {
	select {
	case <-ch:
	case <-p.done:
		runtime.Goexit()
	}
}
