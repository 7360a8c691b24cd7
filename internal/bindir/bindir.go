// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package bindir implements the bin directory: for each small bin, an
// MRU-ordered list of chunk numbers known to have at least one free
// slot. It uses the standard library's container/list, the idiomatic
// Go choice for an ordered, O(1)-insert/remove doubly linked
// structure; see DESIGN.md for why this one piece is stdlib.
package bindir

import "container/list"

// Dir is the bin directory: one deque of chunk numbers per bin.
type Dir struct {
	bins []*list.List
	// index maps (bin, chunk) -> list element, for O(1) Erase instead
	// of an O(n) scan (a chunk is erased only on a state transition,
	// so the index stays small relative to allocation traffic).
	index []map[int]*list.Element
}

// New constructs a bin directory for numBins small bins.
func New(numBins int) *Dir {
	d := &Dir{
		bins:  make([]*list.List, numBins),
		index: make([]map[int]*list.Element, numBins),
	}
	for i := range d.bins {
		d.bins[i] = list.New()
		d.index[i] = make(map[int]*list.Element)
	}
	return d
}

// Insert prepends chunk c to bin b's deque (front = most recently
// used).
func (d *Dir) Insert(b, c int) {
	if _, ok := d.index[b][c]; ok {
		return
	}
	el := d.bins[b].PushFront(c)
	d.index[b][c] = el
}

// Front returns the most recently inserted non-full chunk in bin b,
// or (0, false) if the bin is empty.
func (d *Dir) Front(b int) (int, bool) {
	el := d.bins[b].Front()
	if el == nil {
		return 0, false
	}
	return el.Value.(int), true
}

// Pop removes and returns the front of bin b's deque.
func (d *Dir) Pop(b int) (int, bool) {
	el := d.bins[b].Front()
	if el == nil {
		return 0, false
	}
	d.bins[b].Remove(el)
	c := el.Value.(int)
	delete(d.index[b], c)
	return c, true
}

// Erase removes chunk c from bin b's deque, wherever it sits.
func (d *Dir) Erase(b, c int) {
	el, ok := d.index[b][c]
	if !ok {
		return
	}
	d.bins[b].Remove(el)
	delete(d.index[b], c)
}

// Contains reports whether chunk c is currently listed in bin b.
func (d *Dir) Contains(b, c int) bool {
	_, ok := d.index[b][c]
	return ok
}

// Len returns the number of chunks currently listed in bin b.
func (d *Dir) Len(b int) int {
	return d.bins[b].Len()
}

// Entries returns all (bin, chunk) pairs in the directory, in
// per-bin front-to-back order, for serialization.
func (d *Dir) Entries() [][2]int {
	var out [][2]int
	for b, l := range d.bins {
		for el := l.Front(); el != nil; el = el.Next() {
			out = append(out, [2]int{b, el.Value.(int)})
		}
	}
	return out
}
