// Package mem is the kernel's buddy allocator.
//
// It manages two fixed regions, IRAM1 (the user heap) and IRAM2 (stacks and
// mailbox buffers). Each region is a power-of-two byte arena addressed by
// 32-bit simulated addresses. Free blocks are kept on one list per level,
// level 0 being the whole pool, with the list links stored inside the free
// block itself. A bitmap over the complete binary tree of blocks marks every
// block that is allocated or split.
package mem

import (
	"fmt"
	"math"

	"rtx/internal/bitmap"
	"rtx/internal/klog"
	"rtx/kernel/errno"
)

// Addr is a simulated physical address.
type Addr uint32

// PoolID names a managed region.
type PoolID uint8

const (
	IRAM1 PoolID = iota + 1
	IRAM2
)

func (id PoolID) String() string {
	switch id {
	case IRAM1:
		return "IRAM1"
	case IRAM2:
		return "IRAM2"
	default:
		return fmt.Sprintf("pool(%d)", uint8(id))
	}
}

// Algo selects the allocation algorithm. Only Buddy is implemented.
type Algo uint8

// Buddy splits and coalesces power-of-two blocks.
const Buddy Algo = 0

const (
	// MinPower is log2 of the smallest block handed out.
	MinPower = 5
	// MinBlock is the smallest block handed out.
	MinBlock = 1 << MinPower
)

// Region is the half-open address range [Start, End).
type Region struct {
	Start Addr
	End   Addr
}

// Size returns the region length in bytes.
func (r Region) Size() uint32 { return uint32(r.End - r.Start) }

// Contains reports whether a lies inside the region.
func (r Region) Contains(a Addr) bool { return a >= r.Start && a < r.End }

// Layout fixes where the two pools live.
type Layout struct {
	IRAM1 Region
	IRAM2 Region
}

// DefaultLayout mirrors an LPC1768 memory map: the top 4 KiB of the first
// SRAM bank and the whole 32 KiB second bank.
var DefaultLayout = Layout{
	IRAM1: Region{Start: 0x10007000, End: 0x10008000},
	IRAM2: Region{Start: 0x2007C000, End: 0x20084000},
}

// Block describes one free block.
type Block struct {
	Addr  Addr
	Size  uint32
	Level uint
}

// Memory owns both pools.
type Memory struct {
	layout Layout
	pools  [IRAM2 + 1]*Pool
	log    *klog.Logger
}

// New validates layout and builds the pool arenas. Pools are unusable until
// Init or Create runs.
func New(layout Layout, log *klog.Logger) (*Memory, error) {
	m := &Memory{layout: layout, log: log}
	for _, id := range []PoolID{IRAM1, IRAM2} {
		r := m.region(id)
		size := r.Size()
		if r.End <= r.Start || !bitmap.IsPow2(size) || size < MinBlock {
			return nil, fmt.Errorf("mem: %s region [%#x, %#x) is not a power-of-two size >= %d", id, r.Start, r.End, MinBlock)
		}
		m.pools[id] = newPool(id, r)
	}
	if overlaps(layout.IRAM1, layout.IRAM2) {
		return nil, fmt.Errorf("mem: IRAM1 and IRAM2 overlap")
	}
	return m, nil
}

func overlaps(a, b Region) bool {
	return a.Start < b.End && b.Start < a.End
}

func (m *Memory) region(id PoolID) Region {
	if id == IRAM1 {
		return m.layout.IRAM1
	}
	return m.layout.IRAM2
}

// Init creates both pools with the given algorithm.
func (m *Memory) Init(algo Algo) error {
	m.log.Debugf("mem init: algo = %d", algo)
	for _, id := range []PoolID{IRAM1, IRAM2} {
		r := m.region(id)
		if _, err := m.Create(algo, r.Start, r.End); err != nil {
			return err
		}
	}
	return nil
}

// Create resets the pool that spans [start, end) to a single free block.
func (m *Memory) Create(algo Algo, start, end Addr) (PoolID, error) {
	m.log.Debugf("mpool create: algo = %d, range [%#x, %#x)", algo, start, end)
	if algo != Buddy {
		return 0, errno.EINVAL
	}
	for _, id := range []PoolID{IRAM1, IRAM2} {
		r := m.region(id)
		if r.Start == start && r.End == end {
			m.pools[id].reset()
			return id, nil
		}
	}
	return 0, errno.EINVAL
}

func (m *Memory) pool(id PoolID) (*Pool, error) {
	if id != IRAM1 && id != IRAM2 {
		return nil, errno.EINVAL
	}
	p := m.pools[id]
	if !p.created {
		return nil, errno.EINVAL
	}
	return p, nil
}

// Alloc returns a block of at least size bytes from pool id.
func (m *Memory) Alloc(id PoolID, size uint32) (Addr, error) {
	p, err := m.pool(id)
	if err != nil {
		return 0, err
	}
	a, err := p.alloc(size)
	if err != nil {
		m.log.Debugf("mpool alloc: %s size %d: %v", id, size, err)
		return 0, err
	}
	m.log.Debugf("mpool alloc: %s size %d -> %#x", id, size, a)
	return a, nil
}

// Dealloc returns the block starting at a to pool id. A zero address is a
// no-op.
func (m *Memory) Dealloc(id PoolID, a Addr) error {
	if a == 0 {
		return nil
	}
	p, err := m.pool(id)
	if err != nil {
		return err
	}
	if err := p.dealloc(a); err != nil {
		m.log.Debugf("mpool dealloc: %s %#x: %v", id, a, err)
		return err
	}
	m.log.Debugf("mpool dealloc: %s %#x", id, a)
	return nil
}

// Dump logs every free block of pool id and returns how many there are.
func (m *Memory) Dump(id PoolID) int {
	blocks := m.FreeBlocks(id)
	for _, b := range blocks {
		m.log.Printf("0x%x: 0x%x", uint32(b.Addr), b.Size)
	}
	m.log.Printf("%d free memory block(s) found", len(blocks))
	return len(blocks)
}

// FreeBlocks lists the free blocks of pool id, smallest level first.
func (m *Memory) FreeBlocks(id PoolID) []Block {
	p, err := m.pool(id)
	if err != nil {
		return nil
	}
	return p.freeBlocks()
}

// FreeBytes sums the sizes of all free blocks in pool id.
func (m *Memory) FreeBytes(id PoolID) uint32 {
	var n uint32
	for _, b := range m.FreeBlocks(id) {
		n += b.Size
	}
	return n
}

// Size narrows a byte count to the allocator's width. It fails for counts
// no pool can hold.
func Size(n int) (uint32, bool) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

// Region returns the address range of pool id.
func (m *Memory) Region(id PoolID) Region { return m.region(id) }

// Bytes returns the n bytes starting at a. The range must sit inside one pool.
func (m *Memory) Bytes(a Addr, n uint32) ([]byte, error) {
	for _, id := range []PoolID{IRAM1, IRAM2} {
		r := m.region(id)
		if !r.Contains(a) {
			continue
		}
		if uint64(a)+uint64(n) > uint64(r.End) {
			return nil, errno.EFAULT
		}
		off := uint32(a - r.Start)
		return m.pools[id].arena[off : off+n : off+n], nil
	}
	return nil, errno.EFAULT
}

// AllocStack carves a stack of size bytes from IRAM2 and returns its base,
// the address just past the highest byte. Stacks grow down.
func (m *Memory) AllocStack(size uint32) (Addr, error) {
	a, err := m.Alloc(IRAM2, size)
	if err != nil {
		return 0, err
	}
	return a + Addr(size), nil
}

// FreeStack releases a stack returned by AllocStack.
func (m *Memory) FreeStack(base Addr, size uint32) error {
	return m.Dealloc(IRAM2, base-Addr(size))
}
