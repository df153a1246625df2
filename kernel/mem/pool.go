package mem

import (
	"encoding/binary"

	"rtx/internal/bitmap"
	"rtx/internal/dlist"
	"rtx/kernel/errno"
)

// noBlock terminates free lists. No pool can start at the top of the
// address space, so it never names a real block.
const noBlock = ^Addr(0)

// Pool is one buddy-managed region.
type Pool struct {
	id      PoolID
	region  Region
	power   uint // log2 of the pool size
	height  uint // deepest level; blocks there are MinBlock bytes
	arena   []byte
	free    []dlist.List[Addr]
	tree    bitmap.Bitmap
	created bool
}

func newPool(id PoolID, r Region) *Pool {
	power := bitmap.Log2Ceil(r.Size())
	p := &Pool{
		id:     id,
		region: r,
		power:  power,
		height: power - MinPower,
		arena:  make([]byte, r.Size()),
	}
	p.tree = bitmap.New(bitmap.Pow2(p.height+1) - 1)
	p.free = make([]dlist.List[Addr], p.height+1)
	for i := range p.free {
		p.free[i] = dlist.New[Addr](p, noBlock)
	}
	return p
}

// Link reads the free-list links stored in the first eight bytes of block a.
func (p *Pool) Link(a Addr) (prev, next Addr) {
	off := a - p.region.Start
	prev = Addr(binary.LittleEndian.Uint32(p.arena[off:]))
	next = Addr(binary.LittleEndian.Uint32(p.arena[off+4:]))
	return prev, next
}

// SetLink writes the free-list links of block a. The none handle is a no-op
// so list code can update absent neighbours blindly.
func (p *Pool) SetLink(a, prev, next Addr) {
	if a == noBlock {
		return
	}
	off := a - p.region.Start
	binary.LittleEndian.PutUint32(p.arena[off:], uint32(prev))
	binary.LittleEndian.PutUint32(p.arena[off+4:], uint32(next))
}

func (p *Pool) reset() {
	p.tree.ClearAll()
	for i := range p.free {
		p.free[i].Reset()
	}
	p.free[0].PushBack(p.region.Start)
	p.created = true
}

func (p *Pool) blockSize(level uint) uint32 {
	return bitmap.Pow2(p.power - level)
}

// position is the index of the level block that contains a.
func (p *Pool) position(a Addr, level uint) uint32 {
	return uint32(a-p.region.Start) >> (p.power - level)
}

func (p *Pool) address(level uint, pos uint32) Addr {
	return p.region.Start + Addr(pos<<(p.power-level))
}

// node maps (level, position) to its bit in the breadth-first tree.
func node(level uint, pos uint32) uint32 {
	return bitmap.Pow2(level) - 1 + pos
}

func (p *Pool) alloc(size uint32) (Addr, error) {
	if size == 0 {
		return 0, errno.EINVAL
	}
	if size > p.region.Size() {
		return 0, errno.ENOMEM
	}
	if size < MinBlock {
		size = MinBlock
	}
	target := p.power - bitmap.Log2Ceil(size)

	lvl := int(target)
	for lvl >= 0 && p.free[lvl].Empty() {
		lvl--
	}
	if lvl < 0 {
		return 0, errno.ENOMEM
	}

	blk := p.free[lvl].Front()
	for l := uint(lvl); l < target; l++ {
		p.tree.Set(node(l, p.position(blk, l)))
		p.free[l].Remove(blk)
		p.free[l+1].PushFront(blk + Addr(p.blockSize(l+1)))
		p.free[l+1].PushFront(blk)
	}
	p.tree.Set(node(target, p.position(blk, target)))
	p.free[target].Remove(blk)
	return blk, nil
}

// owner finds the allocated block that starts at a. It walks up from the
// smallest block containing a to the first marked node; that node must be a
// leaf of the allocation tree and must start exactly at a.
func (p *Pool) owner(a Addr) (level uint, ok bool) {
	for l := int(p.height); l >= 0; l-- {
		lv := uint(l)
		pos := p.position(a, lv)
		if !p.tree.On(node(lv, pos)) {
			continue
		}
		if p.address(lv, pos) != a {
			return 0, false
		}
		if lv < p.height {
			left := node(lv+1, pos*2)
			if p.tree.On(left) || p.tree.On(left+1) {
				return 0, false
			}
		}
		return lv, true
	}
	return 0, false
}

func (p *Pool) dealloc(a Addr) error {
	if !p.region.Contains(a) {
		return errno.EFAULT
	}
	level, ok := p.owner(a)
	if !ok {
		return errno.EFAULT
	}

	pos := p.position(a, level)
	for {
		p.tree.Clear(node(level, pos))
		if level == 0 {
			break
		}
		buddy := pos ^ 1
		if p.tree.On(node(level, buddy)) {
			break
		}
		p.free[level].Remove(p.address(level, buddy))
		level--
		pos >>= 1
	}
	p.free[level].PushFront(p.address(level, pos))
	return nil
}

func (p *Pool) freeBlocks() []Block {
	var out []Block
	for l := int(p.height); l >= 0; l-- {
		lv := uint(l)
		size := p.blockSize(lv)
		p.free[lv].Each(func(a Addr) bool {
			out = append(out, Block{Addr: a, Size: size, Level: lv})
			return true
		})
	}
	return out
}
