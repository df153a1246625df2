// Package dlist implements an intrusive doubly linked list.
//
// Elements are identified by handles (task ids, block addresses, ...) and the
// prev/next links live in storage owned by the caller, reached through a
// Links implementation. The list never allocates and never copies payloads.
// A handle may be a member of at most one list that shares its Links storage.
package dlist

// Links reads and writes the link fields for a handle.
type Links[H comparable] interface {
	Link(h H) (prev, next H)
	SetLink(h, prev, next H)
}

// List is a head/tail tracked list. The zero value is not usable; build one
// with New.
type List[H comparable] struct {
	head  H
	tail  H
	none  H
	links Links[H]
}

// New returns an empty list. none is the handle value that means "no element".
func New[H comparable](links Links[H], none H) List[H] {
	return List[H]{head: none, tail: none, none: none, links: links}
}

// Empty reports whether the list has no elements.
func (l *List[H]) Empty() bool {
	return l.head == l.none
}

// Reset drops every element without touching their links.
func (l *List[H]) Reset() {
	l.head = l.none
	l.tail = l.none
}

// Front returns the first element, or the none handle when empty.
func (l *List[H]) Front() H { return l.head }

// Back returns the last element, or the none handle when empty.
func (l *List[H]) Back() H { return l.tail }

// Next returns the element after h, or the none handle for the last element.
func (l *List[H]) Next(h H) H {
	_, next := l.links.Link(h)
	return next
}

// PushFront inserts h at the front.
func (l *List[H]) PushFront(h H) {
	if l.Empty() {
		l.links.SetLink(h, l.none, l.none)
		l.head = h
		l.tail = h
		return
	}
	l.links.SetLink(h, l.none, l.head)
	_, next := l.links.Link(l.head)
	l.links.SetLink(l.head, h, next)
	l.head = h
}

// PushBack inserts h at the back.
func (l *List[H]) PushBack(h H) {
	if l.Empty() {
		l.links.SetLink(h, l.none, l.none)
		l.head = h
		l.tail = h
		return
	}
	l.links.SetLink(h, l.tail, l.none)
	prev, _ := l.links.Link(l.tail)
	l.links.SetLink(l.tail, prev, h)
	l.tail = h
}

// PopFront removes and returns the first element.
func (l *List[H]) PopFront() (H, bool) {
	if l.Empty() {
		return l.none, false
	}
	h := l.head
	l.Remove(h)
	return h, true
}

// PopBack removes and returns the last element.
func (l *List[H]) PopBack() (H, bool) {
	if l.Empty() {
		return l.none, false
	}
	h := l.tail
	l.Remove(h)
	return h, true
}

// Remove unlinks h. h must be a member of l.
func (l *List[H]) Remove(h H) {
	prev, next := l.links.Link(h)
	if prev == l.none {
		l.head = next
	} else {
		pp, _ := l.links.Link(prev)
		l.links.SetLink(prev, pp, next)
	}
	if next == l.none {
		l.tail = prev
	} else {
		_, nn := l.links.Link(next)
		l.links.SetLink(next, prev, nn)
	}
	l.links.SetLink(h, l.none, l.none)
}

// InsertBefore links h in front of at. at must be a member of l; passing
// the none handle appends.
func (l *List[H]) InsertBefore(h, at H) {
	if at == l.none {
		l.PushBack(h)
		return
	}
	prev, next := l.links.Link(at)
	if prev == l.none {
		l.PushFront(h)
		return
	}
	pp, _ := l.links.Link(prev)
	l.links.SetLink(prev, pp, h)
	l.links.SetLink(h, prev, at)
	l.links.SetLink(at, h, next)
}

// InsertOrdered links h before the first element e with before(h, e), or at
// the back when there is none.
func (l *List[H]) InsertOrdered(h H, before func(h, e H) bool) {
	for e := l.head; e != l.none; e = l.Next(e) {
		if before(h, e) {
			l.InsertBefore(h, e)
			return
		}
	}
	l.PushBack(h)
}

// Each calls fn for every element from front to back until fn returns false.
// fn may remove the element it was given.
func (l *List[H]) Each(fn func(h H) bool) {
	for e := l.head; e != l.none; {
		next := l.Next(e)
		if !fn(e) {
			return
		}
		e = next
	}
}
