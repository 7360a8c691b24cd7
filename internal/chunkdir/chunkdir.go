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

// Package chunkdir implements the per-chunk metadata directory:
// chunk state (free / small-object host / part of a large run), bin
// number, per-slot occupancy bitset, and free-run
// lookup over a chunk-number bitmap. The free/occupied bit-scanning
// technique is the same one vm.Malloc/vm.Free use over their VMM page
// bitmap (internal/bitset.Flat.FindFirstUnsetAndSet), just applied at
// chunk granularity instead of page granularity, and to multi-chunk
// runs rather than single pages.
package chunkdir

import (
	"github.com/metall-go/metall/internal/bitset"
	"github.com/metall-go/metall/internal/merrors"
)

// State is the lifecycle state of one chunk.
type State int

const (
	Free State = iota
	SmallHost
	LargeHead
	LargeCont
)

// Entry is the per-chunk metadata record.
type Entry struct {
	State    State
	Bin      int
	Occupied int
	NumSlots int
	RunLen   int // for LargeHead only: 1 + number of continuation chunks
	slots    *bitset.Multilayer
}

// Dir is the chunk directory: a dynamic array indexed by chunk
// number, plus a bitmap over chunk numbers used to find free runs.
type Dir struct {
	entries []Entry
	free    *bitset.Flat // 1 == chunk is Free
	cap     int
}

// New constructs an empty chunk directory with room for capacity
// chunks (grown automatically by Ensure as the segment grows).
func New(capacity int) *Dir {
	d := &Dir{cap: capacity}
	d.entries = make([]Entry, capacity)
	d.free = bitset.NewFlat(capacity)
	for i := 0; i < capacity; i++ {
		d.free.Set(i) // all chunks start out free
	}
	return d
}

// Ensure grows the directory so that chunk numbers up to n-1 are
// addressable, called whenever the segment grows.
func (d *Dir) Ensure(n int) {
	if n <= d.cap {
		return
	}
	entries := make([]Entry, n)
	copy(entries, d.entries)
	d.entries = entries

	free := bitset.NewFlat(n)
	for i := 0; i < d.cap; i++ {
		if d.free.Get(i) {
			free.Set(i)
		}
	}
	for i := d.cap; i < n; i++ {
		free.Set(i) // newly grown chunks start out free
		d.entries[i].State = Free
	}
	d.free = free
	d.cap = n
}

// NumChunks returns the directory's current capacity.
func (d *Dir) NumChunks() int { return d.cap }

// Entry returns a copy of chunk c's metadata.
func (d *Dir) Entry(c int) Entry { return d.entries[c] }

// MarkSmallHost transitions chunk c to a small-object host for bin b
// with numSlots slots, all initially free.
func (d *Dir) MarkSmallHost(c, bin, numSlots int) {
	d.Ensure(c + 1)
	d.entries[c] = Entry{
		State:    SmallHost,
		Bin:      bin,
		NumSlots: numSlots,
		slots:    bitset.NewMultilayer(numSlots),
	}
	d.free.Reset(c)
}

// MarkLargeRun transitions chunk head through head+k-1 into a large
// run: head is tagged LargeHead with bin b and RunLen k; the
// remaining k-1 chunks are tagged LargeCont.
func (d *Dir) MarkLargeRun(head, k, bin int) {
	d.Ensure(head + k)
	d.entries[head] = Entry{State: LargeHead, Bin: bin, RunLen: k}
	d.free.Reset(head)
	for i := 1; i < k; i++ {
		d.entries[head+i] = Entry{State: LargeCont}
		d.free.Reset(head + i)
	}
}

// MarkFree transitions k chunks starting at head back to Free.
func (d *Dir) MarkFree(head, k int) {
	for i := 0; i < k; i++ {
		d.entries[head+i] = Entry{State: Free}
		d.free.Set(head + i)
	}
}

// AllocateSlot finds and occupies a free slot in small-host chunk c,
// returning (slot, true), or (0, false) if the chunk is already full.
func (d *Dir) AllocateSlot(c int) (int, bool) {
	e := &d.entries[c]
	if e.State != SmallHost {
		return 0, false
	}
	idx, ok := e.slots.FindFirstUnsetAndSet()
	if !ok {
		return 0, false
	}
	e.Occupied++
	return idx, true
}

// FreeSlot releases slot in chunk c. It reports whether the chunk's
// occupancy transitioned from full to not-full (so the caller should
// reinsert it into the bin directory) and whether it transitioned to
// fully empty (so the caller should return it to the free pool).
func (d *Dir) FreeSlot(c, slot int) (becameNotFull, becameFree bool, err error) {
	e := &d.entries[c]
	if e.State != SmallHost {
		return false, false, merrors.InvalidArgument
	}
	if !e.slots.Get(slot) {
		return false, false, merrors.InvalidArgument
	}
	wasFull := e.Occupied == e.NumSlots
	e.slots.Reset(slot)
	e.Occupied--
	if e.Occupied == 0 {
		d.entries[c] = Entry{State: Free}
		d.free.Set(c)
		return false, true, nil
	}
	return wasFull, false, nil
}

// FindFreeLargeRun finds the lowest-index run of >= k consecutive
// free chunks and returns its starting chunk number. It does not mark
// the chunks; the caller calls MarkLargeRun once it has also ensured
// backing storage exists for the run (growing the segment if the run
// lies past its current size).
func (d *Dir) FindFreeLargeRun(k int) (int, bool) {
	run := 0
	for i := 0; i < d.cap; i++ {
		if d.free.Get(i) {
			run++
			if run >= k {
				return i - run + 1, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// PopCountSlots returns the popcount of chunk c's slot bitmap, which
// must always equal Entry.Occupied.
func (d *Dir) PopCountSlots(c int) int {
	e := &d.entries[c]
	if e.slots == nil {
		return 0
	}
	return e.slots.PopCount()
}

// AllSmallHostsAndRunsEmpty reports whether the directory currently
// has zero small-host chunks and zero large runs (invariant 10).
func (d *Dir) AllSmallHostsAndRunsEmpty() bool {
	for i := 0; i < d.cap; i++ {
		if d.entries[i].State != Free {
			return false
		}
	}
	return true
}
