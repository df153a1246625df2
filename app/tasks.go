package app

import (
	"fmt"
	"time"
	"unicode/utf8"

	"rtx/kernel"
	"rtx/kernel/mem"
	"rtx/kernel/proto"
)

const (
	echoMailboxSize     = 128
	consumerMailboxSize = 64
	psMailboxSize       = 32
	maxMsg              = 64
)

func send(c *kernel.Context, to kernel.TaskID, kind proto.Kind, payload []byte) error {
	return c.Send(to, proto.Message(uint8(c.TID()), kind, payload))
}

// echo decodes relayed keystrokes. Tasks register a command key with a
// KCDReg message and receive a KCDCmd message whenever it is typed; 'q'
// forwards to every registrant and stops the decoder.
func (s *System) echo(c *kernel.Context) {
	if err := c.MbxCreate(echoMailboxSize); err != nil {
		c.Logf("echo: mailbox: %v", err)
		return
	}
	regs := make(map[byte]kernel.TaskID)
	buf := make([]byte, maxMsg)
	for {
		n, err := c.Recv(buf)
		if err != nil {
			c.Logf("echo: recv: %v", err)
			return
		}
		h, _ := proto.DecodeHeader(buf[:n])
		payload := proto.Payload(buf[:n])

		switch h.Kind {
		case proto.KCDReg:
			cmd, ok := proto.DecodeKCDRegPayload(payload)
			if !ok {
				continue
			}
			regs[cmd] = kernel.TaskID(h.Sender)
		case proto.KeyIn:
			r, _ := utf8.DecodeRune(payload)
			c.Logf("key %q", r)
			if r == 'q' {
				done := make(map[kernel.TaskID]bool)
				for _, tid := range regs {
					if !done[tid] {
						done[tid] = true
						s.command(c, tid, 'q')
					}
				}
				return
			}
			if r < utf8.RuneSelf {
				if tid, ok := regs[byte(r)]; ok {
					s.command(c, tid, byte(r))
				}
			}
		}
	}
}

func (s *System) command(c *kernel.Context, to kernel.TaskID, cmd byte) {
	msg := proto.Message(uint8(c.TID()), proto.KCDCmd, []byte{cmd})
	if err := c.SendNB(to, msg); err != nil {
		c.Logf("echo: command %q to %d: %v", cmd, to, err)
	}
}

// consumer logs messages until an empty one arrives.
func (s *System) consumer(c *kernel.Context) {
	if err := c.MbxCreate(consumerMailboxSize); err != nil {
		c.Logf("consumer: mailbox: %v", err)
		return
	}
	buf := make([]byte, maxMsg)
	for {
		n, err := c.Recv(buf)
		if err != nil {
			c.Logf("consumer: recv: %v", err)
			return
		}
		h, _ := proto.DecodeHeader(buf[:n])
		payload := proto.Payload(buf[:n])
		if len(payload) == 0 {
			c.Logf("consumer: end of stream from %d", h.Sender)
			return
		}
		c.Logf("consumer: %q from %d", payload, h.Sender)
	}
}

// producer sends numbered messages to the consumer, blocking whenever its
// mailbox is full, then an empty message.
func (s *System) producer(c *kernel.Context) {
	to, ok := s.tids["consumer"]
	if !ok {
		c.Logf("producer: no consumer booted")
		return
	}
	for {
		if _, err := c.MailboxSpace(to); err == nil {
			break
		}
		if c.Yield() != nil {
			return
		}
	}
	for i := 1; i <= s.cfg.Messages; i++ {
		if err := send(c, to, proto.Default, []byte(fmt.Sprintf("message %d", i))); err != nil {
			c.Logf("producer: send %d: %v", i, err)
			return
		}
	}
	if err := send(c, to, proto.Default, nil); err != nil {
		c.Logf("producer: send end: %v", err)
	}
}

// clock logs the uptime at every release.
func (s *System) clock(c *kernel.Context) {
	period, err := c.RTPeriod(c.TID())
	if err != nil {
		c.Logf("clock: not real-time: %v", err)
		return
	}
	for n := 1; s.cfg.Uptime == 0 || n <= s.cfg.Uptime; n++ {
		if err := c.RTSuspend(); err != nil {
			c.Logf("clock: %v", err)
			return
		}
		c.Logf("uptime %v (tick %d)", period*time.Duration(n), c.Now())
	}
}

// heap exercises the user heap and dumps it.
func (s *System) heap(c *kernel.Context) {
	var blocks []mem.Addr
	for _, size := range []int{100, 600, 32} {
		a, err := c.MemAlloc(size)
		if err != nil {
			c.Logf("heap: alloc %d: %v", size, err)
			continue
		}
		if b, err := c.Bytes(a, size); err == nil {
			for i := range b {
				b[i] = byte(i)
			}
		}
		c.Logf("heap: %d bytes at %#x", size, uint32(a))
		blocks = append(blocks, a)
	}
	c.MemDump(mem.IRAM1)
	for _, a := range blocks {
		if err := c.MemDealloc(a); err != nil {
			c.Logf("heap: free %#x: %v", uint32(a), err)
		}
	}
	c.MemDump(mem.IRAM1)
}

// ps prints the task table at start and on every 'p' key.
func (s *System) ps(c *kernel.Context) {
	s.printTasks(c)
	decoder, ok := s.tids["echo"]
	if !ok {
		return
	}
	if err := c.MbxCreate(psMailboxSize); err != nil {
		c.Logf("ps: mailbox: %v", err)
		return
	}
	if err := send(c, decoder, proto.KCDReg, proto.KCDRegPayload('p')); err != nil {
		c.Logf("ps: register: %v", err)
		return
	}
	buf := make([]byte, psMailboxSize)
	for {
		n, err := c.Recv(buf)
		if err != nil {
			return
		}
		h, _ := proto.DecodeHeader(buf[:n])
		payload := proto.Payload(buf[:n])
		if h.Kind != proto.KCDCmd || len(payload) != 1 {
			continue
		}
		if payload[0] == 'q' {
			return
		}
		s.printTasks(c)
	}
}

func (s *System) printTasks(c *kernel.Context) {
	ids := make([]kernel.TaskID, kernel.MaxTasks)
	n, err := c.Tasks(ids)
	if err != nil {
		c.Logf("ps: %v", err)
		return
	}
	c.Logf("%3s %-9s %-7s %-13s %s", "TID", "NAME", "PRIO", "STATE", "PERIOD")
	for _, tid := range ids[:n] {
		ti, err := c.Task(tid)
		if err != nil {
			continue
		}
		period := "-"
		if ti.Prio == kernel.PrioRT {
			period = ti.Period.String()
		}
		c.Logf("%3d %-9s %-7s %-13s %s", ti.TID, ti.Name, ti.Prio, ti.State, period)
	}
}

// script types Config.Keys into the key relay, one key per release.
func (s *System) script(c *kernel.Context) {
	for _, r := range s.cfg.Keys {
		if err := c.RTSuspend(); err != nil {
			return
		}
		if !s.k.RelayKey(r) {
			c.Logf("script: key %q dropped", r)
		}
	}
}

// crash panics to show how the kernel reports a failed task.
func (s *System) crash(c *kernel.Context) {
	c.Yield()
	var regs map[string]int
	regs["boom"]++
}
