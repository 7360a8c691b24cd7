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

package metall

import (
	"fmt"

	"github.com/metall-go/metall/internal/chunkdir"
	"github.com/metall-go/metall/internal/merrors"
	"github.com/metall-go/metall/internal/objcache"
)

// Allocate reserves n bytes and returns their offset from the
// segment base, routing between the large-run and small-slot
// allocation paths. workerID selects the caller's object cache
// (see Worker); callers that never call NewWorker may pass 0.
func (h *Heap) Allocate(workerID int, n int64) (int64, error) {
	if n <= 0 {
		return 0, merrors.InvalidArgument
	}
	bin := h.sizes.BinOf(uint64(n))
	if bin >= h.sizes.NumBins() {
		return 0, merrors.OutOfMemory
	}
	if bin >= h.sizes.NumSmallBins() {
		return h.allocateLarge(bin)
	}
	return h.allocateSmall(workerID, bin)
}

// Deallocate releases the allocation previously returned by Allocate
// at the same offset. workerID selects which worker cache a small
// object is returned to (see Worker); large objects are always freed
// straight to the segment regardless of workerID.
func (h *Heap) Deallocate(workerID int, offset int64) error {
	h.mu.Lock()
	if h.st != openRW {
		h.mu.Unlock()
		return merrors.InvalidArgument
	}
	chunk := int(offset / chunkSize)
	if chunk < 0 || chunk >= h.cdir.NumChunks() {
		h.mu.Unlock()
		return merrors.InvalidArgument
	}
	e := h.cdir.Entry(chunk)
	if e.State == chunkdir.LargeHead || e.State == chunkdir.LargeCont {
		defer h.mu.Unlock()
		return h.deallocateLargeLocked(chunk)
	}
	h.mu.Unlock()
	return h.cacheFor(workerID).Push(e.Bin, offset)
}

func (h *Heap) allocateLarge(bin int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st != openRW {
		return 0, merrors.InvalidArgument
	}
	return h.allocateLargeLocked(bin)
}

func (h *Heap) deallocateLargeLocked(head int) error {
	e := h.cdir.Entry(head)
	k := e.RunLen
	if k <= 0 {
		// head was actually a continuation chunk; walk back to the
		// true run head.
		for head > 0 && h.cdir.Entry(head).RunLen <= 0 {
			head--
		}
		e = h.cdir.Entry(head)
		k = e.RunLen
	}
	h.cdir.MarkFree(head, k)
	return h.seg.FreeRange(int64(head)*chunkSize, int64(k)*chunkSize)
}

func (h *Heap) allocateSmall(workerID, bin int) (int64, error) {
	h.mu.Lock()
	st := h.st
	h.mu.Unlock()
	if st != openRW {
		return 0, merrors.InvalidArgument
	}
	c := h.cacheFor(workerID)
	off, err := c.Pop(bin)
	if err != nil {
		return 0, err
	}
	return off, nil
}

// deallocateSmallLocked returns a small object straight to the bin
// directory/chunk bitmap, bypassing any worker cache. Used for named,
// unique, and anonymous object destruction, which have no worker
// handle to push into.
func (h *Heap) deallocateSmallLocked(chunk int, offset int64) error {
	e := h.cdir.Entry(chunk)
	base := int64(chunk) * chunkSize
	slot := int((offset - base) / int64(h.sizes.SizeOf(e.Bin)))
	becameNotFull, becameFree, err := h.cdir.FreeSlot(chunk, slot)
	if err != nil {
		return err
	}
	if becameFree {
		h.bdir.Erase(e.Bin, chunk)
		return nil
	}
	if becameNotFull {
		h.bdir.Insert(e.Bin, chunk)
	}
	return nil
}

// Worker is a stable handle identifying one logical worker's object
// cache, standing in for OS thread-local storage (Go has none): the
// caller obtains one per goroutine/worker and reuses it for every
// Allocate/Free call from that worker, the same way
// tenant/dcache.worker keys per-call-site state without relying on
// OS TLS.
type Worker struct {
	idx int
}

// NewWorker allocates a fresh, stable worker index.
func (h *Heap) NewWorker() *Worker {
	h.cachesMu.Lock()
	defer h.cachesMu.Unlock()
	idx := len(h.caches)
	h.caches[idx] = objcache.New(&kernelGlobal{h: h}, h.cacheCapacities())
	return &Worker{idx: idx}
}

// Allocate is shorthand for h.Allocate(w.idx, n).
func (w *Worker) Allocate(h *Heap, n int64) (int64, error) { return h.Allocate(w.idx, n) }

// Free returns offset to w's cache (for small objects) or frees it
// globally (for large objects).
func (w *Worker) Free(h *Heap, offset int64) error { return h.Deallocate(w.idx, offset) }

func (h *Heap) cacheFor(workerID int) *objcache.Cache {
	h.cachesMu.Lock()
	defer h.cachesMu.Unlock()
	c, ok := h.caches[workerID]
	if !ok {
		c = objcache.New(&kernelGlobal{h: h}, h.cacheCapacities())
		h.caches[workerID] = c
	}
	return c
}

func (h *Heap) cacheCapacities() []int {
	caps := make([]int, h.sizes.NumSmallBins())
	budget := h.cfg.ObjectCacheBudget
	for b := range caps {
		sz := int64(h.sizes.SizeOf(b))
		if sz <= 0 {
			continue
		}
		n := int(budget / sz)
		if n < 1 {
			n = 1
		}
		caps[b] = n
	}
	return caps
}

// kernelGlobal implements objcache.Global by reaching into the
// kernel's chunk/bin directories under the global lock, so
// the cache itself never locks.
type kernelGlobal struct {
	h *Heap
}

func (g *kernelGlobal) RefillBin(bin, want int) ([]int64, error) {
	g.h.mu.Lock()
	defer g.h.mu.Unlock()

	var out []int64
	for len(out) < want {
		chunk, ok := g.h.bdir.Front(bin)
		if !ok {
			nc, err := g.h.carveSmallHostLocked(bin)
			if err != nil {
				if len(out) > 0 {
					return out, nil
				}
				return nil, err
			}
			chunk = nc
		}
		slot, ok := g.h.cdir.AllocateSlot(chunk)
		if !ok {
			// the front chunk just became full from another path; drop
			// it from the bin directory and retry.
			g.h.bdir.Erase(bin, chunk)
			continue
		}
		e := g.h.cdir.Entry(chunk)
		if e.Occupied == e.NumSlots {
			g.h.bdir.Erase(bin, chunk)
		}
		out = append(out, int64(chunk)*chunkSize+int64(slot)*int64(g.h.sizes.SizeOf(bin)))
	}
	return out, nil
}

func (g *kernelGlobal) FlushBin(bin int, offsets []int64) error {
	g.h.mu.Lock()
	defer g.h.mu.Unlock()
	for _, off := range offsets {
		chunk := int(off / chunkSize)
		base := int64(chunk) * chunkSize
		slot := int((off - base) / int64(g.h.sizes.SizeOf(bin)))
		becameNotFull, becameFree, err := g.h.cdir.FreeSlot(chunk, slot)
		if err != nil {
			return err
		}
		if becameFree {
			g.h.bdir.Erase(bin, chunk)
			continue
		}
		if becameNotFull {
			g.h.bdir.Insert(bin, chunk)
		}
	}
	return nil
}

// carveSmallHostLocked turns one fresh chunk into a small-object host
// for bin, growing the segment if needed. Called with h.mu held.
func (h *Heap) carveSmallHostLocked(bin int) (int, error) {
	chunk, ok := h.cdir.FindFreeLargeRun(1)
	if !ok {
		chunk = h.cdir.NumChunks()
	}
	needed := int64(chunk+1) * chunkSize
	if needed > h.seg.Size() {
		if err := h.seg.Grow(needed - h.seg.Size()); err != nil {
			return 0, fmt.Errorf("grow for bin %d: %w", bin, err)
		}
	}
	numSlots := int(chunkSize / h.sizes.SizeOf(bin))
	h.cdir.MarkSmallHost(chunk, bin, numSlots)
	return chunk, nil
}
