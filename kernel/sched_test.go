package kernel

import (
	"testing"
	"time"
)

func TestRealTimePreemptsAtRelease(t *testing.T) {
	rec := &recorder{}
	var k *Kernel
	k = boot(t, Config{},
		ti("rt", High, func(c *Context) {
			if err := c.RTSet(2 * DefaultTickSize); err != nil {
				t.Errorf("RTSet: %v", err)
				return
			}
			for i := 0; i < 3; i++ {
				rec.add("r%d@%d", i, c.Now())
				if err := c.RTSuspend(); err != nil {
					t.Errorf("RTSuspend: %v", err)
				}
			}
		}),
		ti("m", Medium, func(c *Context) {
			for i := 0; i < 4; i++ {
				rec.add("m")
				k.Tick()
				k.Tick()
				c.Yield()
			}
		}),
	)
	mustRun(t, k)
	expect(t, rec, "r0@0 m r1@2 m r2@4 m m")
}

func TestDeadlineMissReleasesImmediately(t *testing.T) {
	var k *Kernel
	k = boot(t, Config{}, ti("rt", High, func(c *Context) {
		if err := c.RTSet(time.Millisecond); err != nil {
			t.Errorf("RTSet: %v", err)
			return
		}
		for i := 0; i < 5; i++ {
			k.Tick()
		}
		if err := c.RTSuspend(); err != nil {
			t.Errorf("RTSuspend after miss: %v", err)
		}
		self := &k.tcbs[c.TID()]
		if k.now != 5 || self.release != 5 || self.deadline != 7 {
			t.Errorf("after miss: now %d release %d deadline %d, want 5 5 7", k.now, self.release, self.deadline)
		}
		if err := c.RTSuspend(); err != nil {
			t.Errorf("RTSuspend: %v", err)
		}
		if now := c.Now(); now != 7 {
			t.Errorf("woke at tick %d, want 7", now)
		}
	}))
	mustRun(t, k)
}

func TestEarliestDeadlineRunsFirst(t *testing.T) {
	rec := &recorder{}
	periodic := func(name string, period time.Duration) TaskFunc {
		return func(c *Context) {
			c.RTSet(period)
			for i := 0; i < 2; i++ {
				c.RTSuspend()
				rec.add("%s@%d", name, c.Now())
			}
		}
	}
	k := boot(t, Config{},
		ti("slow", High, periodic("slow", 6*DefaultTickSize)),
		ti("fast", High, periodic("fast", 4*DefaultTickSize)),
	)
	mustRun(t, k)
	expect(t, rec, "fast@4 slow@6 fast@8 slow@12")
}

func TestTimeoutListKeepsRelativeDeltas(t *testing.T) {
	k := newKernel(t, Config{})
	k.now = 10
	for tid, deadline := range map[TaskID]uint64{1: 15, 2: 12, 3: 20, 4: 15} {
		k.tcbs[tid].prio = PrioRT
		k.tcbs[tid].period = 4
		k.tcbs[tid].deadline = deadline
	}
	for _, tid := range []TaskID{1, 2, 3, 4} {
		k.timeoutListAdd(tid)
	}

	type entry struct {
		tid   TaskID
		delta uint64
	}
	var got []entry
	k.timeouts.Each(func(tid TaskID) bool {
		got = append(got, entry{tid, k.tcbs[tid].delta})
		return true
	})
	want := []entry{{2, 2}, {1, 3}, {4, 0}, {3, 5}}
	if len(got) != len(want) {
		t.Fatalf("timeout list = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("timeout list = %v, want %v", got, want)
		}
	}

	k.tick()
	if released := k.tick(); !released || k.rtq.Front() != 2 {
		t.Fatalf("tick 12 did not release task 2")
	}
	if k.tcbs[2].deadline != 16 || k.tcbs[2].state != Ready {
		t.Fatalf("task 2 after release: deadline %d state %s", k.tcbs[2].deadline, k.tcbs[2].state)
	}
	for i := 0; i < 3; i++ {
		k.tick()
	}
	// 1 and 4 share tick 15.
	if k.now != 15 || k.timeouts.Front() != 3 || k.tcbs[3].delta != 5 {
		t.Fatalf("at tick %d head %d delta %d", k.now, k.timeouts.Front(), k.tcbs[3].delta)
	}
	var order []TaskID
	k.rtq.Each(func(tid TaskID) bool {
		order = append(order, tid)
		return true
	})
	if len(order) != 3 || order[0] != 2 || order[1] != 1 || order[2] != 4 {
		t.Fatalf("rt queue = %v, want [2 1 4]", order)
	}
}

func TestRealTimeErrors(t *testing.T) {
	k := boot(t, Config{},
		ti("plain", High, func(c *Context) {
			if err := c.RTSuspend(); err != EPERM {
				t.Errorf("RTSuspend non-rt err = %v, want EPERM", err)
			}
			if err := c.RTSet(700 * time.Microsecond); err != EINVAL {
				t.Errorf("RTSet(700us) err = %v, want EINVAL", err)
			}
			if err := c.RTSet(-time.Millisecond); err != EINVAL {
				t.Errorf("RTSet(negative) err = %v, want EINVAL", err)
			}
			if _, err := c.RTPeriod(c.TID()); err != EINVAL {
				t.Errorf("RTPeriod of non-rt err = %v, want EINVAL", err)
			}
			if c.Errno() != EINVAL {
				t.Errorf("Errno = %v, want EINVAL", c.Errno())
			}

			if err := c.RTSet(time.Millisecond); err != nil {
				t.Errorf("RTSet: %v", err)
			}
			if err := c.RTSet(time.Millisecond); err != EPERM {
				t.Errorf("second RTSet err = %v, want EPERM", err)
			}
			if err := c.Yield(); err != EPERM {
				t.Errorf("Yield from rt err = %v, want EPERM", err)
			}
			if d, err := c.RTPeriod(c.TID()); err != nil || d != time.Millisecond {
				t.Errorf("RTPeriod = %v, %v", d, err)
			}
			if err := c.SetPrio(c.TID(), High); err != EPERM {
				t.Errorf("SetPrio out of rt err = %v, want EPERM", err)
			}
			c.RTSuspend()
		}),
		ti("other", Low, func(c *Context) {
			if _, err := c.RTPeriod(1); err != EPERM {
				t.Errorf("RTPeriod from non-rt caller err = %v, want EPERM", err)
			}
		}),
	)
	mustRun(t, k)
}

func TestZeroPeriodReleasesEveryTick(t *testing.T) {
	var wakes []uint64
	k := boot(t, Config{}, ti("rt", High, func(c *Context) {
		c.RTSet(0)
		for i := 0; i < 3; i++ {
			c.RTSuspend()
			wakes = append(wakes, c.Now())
		}
	}))
	mustRun(t, k)
	if len(wakes) != 3 || wakes[0] != 1 || wakes[1] != 2 || wakes[2] != 3 {
		t.Fatalf("wakes = %v, want [1 2 3]", wakes)
	}
}
