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

// Package objcache implements the thread-local object cache: a
// fixed-byte-budget, per-bin offset stack sitting in front of the bin
// directory, absorbing short-lived small-object allocate/deallocate
// traffic with batched refill and flush so the global allocator lock
// is only taken once per batch rather than once per allocation. The
// batching discipline (acquire once, satisfy many requests, release)
// mirrors tenant/dcache.Cache's worker queue, which batches
// cache-fill requests behind a single lock/cond rather than locking
// per request (see cache.go's lockID/unlockID and worker.go).
package objcache

import "github.com/metall-go/metall/internal/merrors"

// Global is the interface the cache uses to reach the shared
// allocator state (bin directory + chunk directory) under the
// kernel's global lock. The cache itself never locks: the kernel is
// responsible for serializing RefillBin/FlushBin calls.
type Global interface {
	// RefillBin returns up to want offsets with free slots in bin,
	// carving new chunks from the chunk directory as needed. It may
	// return fewer than want (but more than zero) if the allocator is
	// close to OutOfMemory; it returns an error only if it could not
	// satisfy even one slot.
	RefillBin(bin int, want int) ([]int64, error)
	// FlushBin returns offsets (previously obtained from RefillBin or
	// from a client's own allocations in that bin) to the shared
	// allocator.
	FlushBin(bin int, offsets []int64) error
}

// Cache is one thread-local (or more precisely, one
// per-caller-supplied-worker-index) object cache.
type Cache struct {
	global   Global
	capacity []int // per-bin capacity, budget / size_of(bin)
	stacks   [][]int64
}

// New constructs a Cache with the given per-bin capacities (computed
// by the caller as budget/size_of(bin) for each small bin).
func New(global Global, capacity []int) *Cache {
	c := &Cache{
		global:   global,
		capacity: capacity,
		stacks:   make([][]int64, len(capacity)),
	}
	for b, cap := range capacity {
		if cap > 0 {
			c.stacks[b] = make([]int64, 0, cap)
		}
	}
	return c
}

// Pop returns an offset from bin b's cache, refilling from the global
// allocator on a miss.
func (c *Cache) Pop(b int) (int64, error) {
	s := c.stacks[b]
	if len(s) == 0 {
		if err := c.refill(b); err != nil {
			return 0, err
		}
		s = c.stacks[b]
		if len(s) == 0 {
			return 0, merrors.OutOfMemory
		}
	}
	off := s[len(s)-1]
	c.stacks[b] = s[:len(s)-1]
	return off, nil
}

func (c *Cache) refill(b int) error {
	want := c.capacity[b]
	if want <= 0 {
		want = 1
	}
	offs, err := c.global.RefillBin(b, want)
	if err != nil {
		return err
	}
	// pushed in reverse so the first offset RefillBin returned is popped first
	for i := len(offs) - 1; i >= 0; i-- {
		c.stacks[b] = append(c.stacks[b], offs[i])
	}
	return nil
}

// Push appends offset to bin b's cache, flushing half the stack back
// to the global allocator if it would overflow capacity.
func (c *Cache) Push(b int, offset int64) error {
	cap := c.capacity[b]
	if cap <= 0 {
		return c.global.FlushBin(b, []int64{offset})
	}
	s := c.stacks[b]
	if len(s) >= cap {
		if err := c.flushHalf(b); err != nil {
			return err
		}
		s = c.stacks[b]
	}
	c.stacks[b] = append(s, offset)
	return nil
}

func (c *Cache) flushHalf(b int) error {
	s := c.stacks[b]
	n := len(s) / 2
	if n == 0 {
		n = len(s)
	}
	if n == 0 {
		return nil
	}
	toFlush := append([]int64(nil), s[:n]...)
	if err := c.global.FlushBin(b, toFlush); err != nil {
		return err
	}
	c.stacks[b] = append(s[:0], s[n:]...)
	return nil
}

// Clear drains every bin's cache back to the global allocator, used
// when a worker shuts down or the heap is closed.
func (c *Cache) Clear() error {
	for b, s := range c.stacks {
		if len(s) == 0 {
			continue
		}
		if err := c.global.FlushBin(b, s); err != nil {
			return err
		}
		c.stacks[b] = s[:0]
	}
	return nil
}
