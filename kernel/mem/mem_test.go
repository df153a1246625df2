package mem

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"rtx/internal/klog"
	"rtx/kernel/errno"
)

const base1 = Addr(0x10007000)

func newMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := New(DefaultLayout, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Init(Buddy); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m
}

func mustAlloc(t *testing.T, m *Memory, id PoolID, size uint32) Addr {
	t.Helper()
	a, err := m.Alloc(id, size)
	if err != nil {
		t.Fatalf("Alloc(%s, %d): %v", id, size, err)
	}
	return a
}

func TestFreshPoolIsOneBlock(t *testing.T) {
	m := newMemory(t)
	for _, id := range []PoolID{IRAM1, IRAM2} {
		blocks := m.FreeBlocks(id)
		r := m.Region(id)
		if len(blocks) != 1 || blocks[0].Addr != r.Start || blocks[0].Size != r.Size() || blocks[0].Level != 0 {
			t.Fatalf("%s free blocks = %+v, want one block at %#x size %d", id, blocks, r.Start, r.Size())
		}
	}
}

func TestReallocPrefersExactLevelRemnant(t *testing.T) {
	m := newMemory(t)

	a := mustAlloc(t, m, IRAM1, 100)
	b := mustAlloc(t, m, IRAM1, 50)
	if a != base1 || b != base1+128 {
		t.Fatalf("a, b = %#x, %#x; want %#x, %#x", a, b, base1, base1+128)
	}
	if err := m.Dealloc(IRAM1, a); err != nil {
		t.Fatalf("Dealloc: %v", err)
	}
	c := mustAlloc(t, m, IRAM1, 60)
	if c != base1+192 {
		t.Fatalf("re-alloc = %#x, want %#x", c, base1+192)
	}

	// The freed 128-byte block and the untouched upper halves are still free.
	want := map[Addr]uint32{
		base1:        128,
		base1 + 256:  256,
		base1 + 512:  512,
		base1 + 1024: 1024,
		base1 + 2048: 2048,
	}
	got := m.FreeBlocks(IRAM1)
	if len(got) != len(want) {
		t.Fatalf("free blocks = %+v", got)
	}
	for _, blk := range got {
		if want[blk.Addr] != blk.Size {
			t.Fatalf("unexpected free block %+v", blk)
		}
	}
}

func TestFullCoalesce(t *testing.T) {
	m := newMemory(t)
	var addrs []Addr
	for i := 0; i < 4096/MinBlock; i++ {
		addrs = append(addrs, mustAlloc(t, m, IRAM1, 1))
	}
	if _, err := m.Alloc(IRAM1, 1); err != errno.ENOMEM {
		t.Fatalf("Alloc on full pool err = %v, want ENOMEM", err)
	}
	rand.New(rand.NewSource(1)).Shuffle(len(addrs), func(i, j int) { addrs[i], addrs[j] = addrs[j], addrs[i] })
	for _, a := range addrs {
		if err := m.Dealloc(IRAM1, a); err != nil {
			t.Fatalf("Dealloc(%#x): %v", a, err)
		}
	}
	blocks := m.FreeBlocks(IRAM1)
	if len(blocks) != 1 || blocks[0].Size != 4096 {
		t.Fatalf("after freeing everything: %+v", blocks)
	}
	if n := m.pools[IRAM1].tree.Count(); n != 0 {
		t.Fatalf("tree has %d marked nodes", n)
	}
}

func TestConservationAndNoAdjacentFreeBuddies(t *testing.T) {
	m := newMemory(t)
	rng := rand.New(rand.NewSource(7))
	live := map[Addr]uint32{}
	round := func(n uint32) uint32 {
		s := uint32(MinBlock)
		for s < n {
			s <<= 1
		}
		return s
	}

	for step := 0; step < 2000; step++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			for a := range live {
				if err := m.Dealloc(IRAM2, a); err != nil {
					t.Fatalf("Dealloc(%#x): %v", a, err)
				}
				delete(live, a)
				break
			}
		} else {
			n := uint32(rng.Intn(2048) + 1)
			a, err := m.Alloc(IRAM2, n)
			if err == nil {
				live[a] = round(n)
			} else if err != errno.ENOMEM {
				t.Fatalf("Alloc(%d): %v", n, err)
			}
		}

		var used uint32
		for _, s := range live {
			used += s
		}
		if used+m.FreeBytes(IRAM2) != 32768 {
			t.Fatalf("step %d: used %d + free %d != 32768", step, used, m.FreeBytes(IRAM2))
		}

		p := m.pools[IRAM2]
		free := make(map[Block]bool)
		for _, blk := range p.freeBlocks() {
			free[blk] = true
		}
		for blk := range free {
			if blk.Level == 0 {
				continue
			}
			pos := p.position(blk.Addr, blk.Level)
			buddy := Block{Addr: p.address(blk.Level, pos^1), Size: blk.Size, Level: blk.Level}
			if free[buddy] {
				t.Fatalf("step %d: free buddies %#x and %#x at level %d", step, blk.Addr, buddy, blk.Level)
			}
		}
	}
}

func TestAllocRejects(t *testing.T) {
	m := newMemory(t)
	if _, err := m.Alloc(IRAM1, 0); err != errno.EINVAL {
		t.Fatalf("Alloc(0) err = %v, want EINVAL", err)
	}
	if _, err := m.Alloc(IRAM1, 4097); err != errno.ENOMEM {
		t.Fatalf("Alloc(4097) err = %v, want ENOMEM", err)
	}
	if _, err := m.Alloc(PoolID(9), 8); err != errno.EINVAL {
		t.Fatalf("Alloc on bad pool err = %v, want EINVAL", err)
	}
	if a := mustAlloc(t, m, IRAM1, 4096); a != base1 {
		t.Fatalf("whole-pool alloc = %#x", a)
	}
}

func TestSizeRejectsWideCounts(t *testing.T) {
	if n, ok := Size(4096); !ok || n != 4096 {
		t.Fatalf("Size(4096) = %d, %v", n, ok)
	}
	if _, ok := Size(-1); ok {
		t.Fatalf("Size(-1) accepted")
	}
	if strconv.IntSize == 64 {
		var wide uint64 = 1<<32 + 32
		if n, ok := Size(int(wide)); ok {
			t.Fatalf("Size(4G+32) = %d, accepted", n)
		}
	}
}

func TestDeallocFaults(t *testing.T) {
	m := newMemory(t)
	a := mustAlloc(t, m, IRAM1, 64)
	_ = mustAlloc(t, m, IRAM1, 64)

	cases := []struct {
		name string
		addr Addr
	}{
		{"outside pool", 0x20000000},
		{"interior pointer", a + 8},
		{"never allocated", base1 + 2048},
		{"free block", base1 + 1024},
	}
	for _, tc := range cases {
		if err := m.Dealloc(IRAM1, tc.addr); err != errno.EFAULT {
			t.Fatalf("%s: Dealloc(%#x) err = %v, want EFAULT", tc.name, tc.addr, err)
		}
	}
	if err := m.Dealloc(IRAM1, a); err != nil {
		t.Fatalf("Dealloc: %v", err)
	}
	if err := m.Dealloc(IRAM1, a); err != errno.EFAULT {
		t.Fatalf("double free err = %v, want EFAULT", err)
	}
	if err := m.Dealloc(IRAM1, 0); err != nil {
		t.Fatalf("Dealloc(0) err = %v, want nil", err)
	}
}

func TestCreateValidates(t *testing.T) {
	m, err := New(DefaultLayout, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.Alloc(IRAM1, 32); err != errno.EINVAL {
		t.Fatalf("Alloc before create err = %v, want EINVAL", err)
	}
	if _, err := m.Create(Algo(1), base1, base1+4096); err != errno.EINVAL {
		t.Fatalf("Create(algo 1) err = %v, want EINVAL", err)
	}
	if _, err := m.Create(Buddy, base1, base1+2048); err != errno.EINVAL {
		t.Fatalf("Create(bad range) err = %v, want EINVAL", err)
	}
	id, err := m.Create(Buddy, base1, base1+4096)
	if err != nil || id != IRAM1 {
		t.Fatalf("Create = %v, %v", id, err)
	}

	if _, err := New(Layout{IRAM1: Region{0, 100}, IRAM2: DefaultLayout.IRAM2}, nil); err == nil {
		t.Fatalf("New accepted a non power-of-two region")
	}
}

func TestDumpAndBytes(t *testing.T) {
	var out sink
	m, err := New(DefaultLayout, klog.New(&out, klog.Nothing))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Init(Buddy); err != nil {
		t.Fatalf("Init: %v", err)
	}
	a := mustAlloc(t, m, IRAM1, 32)
	if n := m.Dump(IRAM1); n != 7 {
		t.Fatalf("Dump = %d blocks, want 7", n)
	}
	if !strings.Contains(out.String(), "7 free memory block(s) found") {
		t.Fatalf("dump output:\n%s", out.String())
	}

	buf, err := m.Bytes(a, 32)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	copy(buf, "hello")
	again, _ := m.Bytes(a, 5)
	if string(again) != "hello" {
		t.Fatalf("Bytes does not alias the arena: %q", again)
	}
	if _, err := m.Bytes(base1+4090, 10); err != errno.EFAULT {
		t.Fatalf("Bytes past pool end err = %v, want EFAULT", err)
	}
}

func TestStackHelpers(t *testing.T) {
	m := newMemory(t)
	top, err := m.AllocStack(512)
	if err != nil {
		t.Fatalf("AllocStack: %v", err)
	}
	if top != DefaultLayout.IRAM2.Start+512 {
		t.Fatalf("stack top = %#x", top)
	}
	if err := m.FreeStack(top, 512); err != nil {
		t.Fatalf("FreeStack: %v", err)
	}
	if m.FreeBytes(IRAM2) != 32768 {
		t.Fatalf("IRAM2 not fully free after FreeStack")
	}
}

type sink struct{ lines []string }

func (s *sink) WriteLineString(l string) { s.lines = append(s.lines, l) }
func (s *sink) String() string            { return strings.Join(s.lines, "\n") }
