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
	"unsafe"

	"github.com/metall-go/metall/internal/attrdir"
	"github.com/metall-go/metall/internal/merrors"
)

// typeID produces a stable, human-readable identity for T, used both
// as the unique directory's key and as the stored type_id attribute
// field.
func typeID[T any]() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}

func sizeOf[T any]() int64 {
	var zero T
	return int64(unsafe.Sizeof(zero))
}

// ptrAt returns a pointer into the live segment at offset, bounds
// checked against the currently committed size. Go generics cannot
// be parameterized on methods, so this and Construct/Find/Destroy
// below are free functions taking *Heap, the idiomatic shape for
// generic APIs in this Go version.
func ptrAt[T any](h *Heap, offset int64) (*T, error) {
	if offset < 0 || offset+sizeOf[T]() > h.seg.Size() {
		return nil, merrors.InvalidArgument
	}
	return (*T)(unsafe.Pointer(&h.seg.Bytes()[offset])), nil
}

// Construct allocates space for one T, zero-initializes it, and
// records it in the named directory under name. It is the Go
// realization of a construct<T>(name)(args...) call: because
// Go has no placement-new constructor call, the caller finishes
// initializing *T by writing through the returned pointer instead of
// passing constructor arguments.
func Construct[T any](h *Heap, name string) (*T, error) {
	return constructNamed[T](h, &h.named, name, 1)
}

// ConstructArray is the array form of Construct: it allocates n
// contiguous T values under one named entry.
func ConstructArray[T any](h *Heap, name string, n int) ([]T, error) {
	return constructNamedArray[T](h, &h.named, name, n)
}

// ConstructUnique allocates one T keyed by its own type identity in
// the unique directory, one entry per type identity.
func ConstructUnique[T any](h *Heap) (*T, error) {
	return constructNamed[T](h, &h.unique, typeID[T](), 1)
}

func constructNamed[T any](h *Heap, dir **attrdir.Table, name string, n int) (*T, error) {
	vs, err := constructNamedArray[T](h, dir, name, n)
	if err != nil {
		return nil, err
	}
	return &vs[0], nil
}

func constructNamedArray[T any](h *Heap, dir **attrdir.Table, name string, n int) ([]T, error) {
	if n <= 0 {
		return nil, merrors.InvalidArgument
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st != openRW {
		return nil, merrors.InvalidArgument
	}
	if _, ok := (*dir).Find(name); ok {
		return nil, merrors.Duplicate
	}

	elemSize := sizeOf[T]()
	total := elemSize * int64(n)
	offset, err := h.allocateLockedForNamed(total)
	if err != nil {
		return nil, err
	}

	mem := h.seg.Bytes()[offset : offset+total]
	for i := range mem {
		mem[i] = 0
	}

	if err := (*dir).Insert(attrdir.Entry{
		Name:   name,
		Offset: offset,
		Length: int64(n),
		TypeID: typeID[T](),
	}); err != nil {
		return nil, err
	}

	ptr := (*T)(unsafe.Pointer(&mem[0]))
	return unsafe.Slice(ptr, n), nil
}

// allocateLockedForNamed allocates total bytes via the same bin
// selection Allocate uses, but inline (h.mu already held) since
// Construct must hold the kernel's construction lock across the
// directory Find/Insert pair, so construction is thread-safe under a
// single per-kernel construction lock.
func (h *Heap) allocateLockedForNamed(total int64) (int64, error) {
	bin := h.sizes.BinOf(uint64(total))
	if bin >= h.sizes.NumBins() {
		return 0, merrors.OutOfMemory
	}
	if bin >= h.sizes.NumSmallBins() {
		return h.allocateLargeLocked(bin)
	}
	return h.allocateSmallLocked(bin)
}

func (h *Heap) allocateLargeLocked(bin int) (int64, error) {
	size := h.sizes.SizeOf(bin)
	k := int((size + chunkSize - 1) / chunkSize)
	head, ok := h.cdir.FindFreeLargeRun(k)
	if !ok {
		head = h.cdir.NumChunks()
	}
	needed := int64(head+k) * chunkSize
	if needed > h.seg.Size() {
		if err := h.seg.Grow(needed - h.seg.Size()); err != nil {
			return 0, err
		}
	}
	h.cdir.MarkLargeRun(head, k, bin)
	return int64(head) * chunkSize, nil
}

func (h *Heap) allocateSmallLocked(bin int) (int64, error) {
	chunk, ok := h.bdir.Front(bin)
	if !ok {
		nc, err := h.carveSmallHostLocked(bin)
		if err != nil {
			return 0, err
		}
		chunk = nc
	}
	slot, ok := h.cdir.AllocateSlot(chunk)
	if !ok {
		h.bdir.Erase(bin, chunk)
		return h.allocateSmallLocked(bin)
	}
	e := h.cdir.Entry(chunk)
	if e.Occupied == e.NumSlots {
		h.bdir.Erase(bin, chunk)
	}
	return int64(chunk)*chunkSize + int64(slot)*int64(h.sizes.SizeOf(bin)), nil
}

// Find looks up name in the named directory, returning the pointer
// and array length recorded at Construct/ConstructArray time.
func Find[T any](h *Heap, name string) (*T, int, error) {
	return findNamed[T](h, &h.named, name)
}

// FindUnique looks up T's unique-directory entry.
func FindUnique[T any](h *Heap) (*T, int, error) {
	return findNamed[T](h, &h.unique, typeID[T]())
}

func findNamed[T any](h *Heap, dir **attrdir.Table, name string) (*T, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st == closed {
		return nil, 0, merrors.InvalidArgument
	}
	e, ok := (*dir).Find(name)
	if !ok {
		return nil, 0, nil
	}
	ptr, err := ptrAt[T](h, e.Offset)
	if err != nil {
		return nil, 0, err
	}
	return ptr, int(e.Length), nil
}

// Destroy deallocates name's named-directory entry, running no
// destructor (Go is garbage collected; there is nothing to
// finalize beyond releasing the region) and erasing the directory
// entry, mirroring a destroy<T>(name) call.
func Destroy[T any](h *Heap, name string) error {
	return destroyNamed[T](h, &h.named, name)
}

// DestroyUnique deallocates T's unique-directory entry.
func DestroyUnique[T any](h *Heap) error {
	return destroyNamed[T](h, &h.unique, typeID[T]())
}

func destroyNamed[T any](h *Heap, dir **attrdir.Table, name string) error {
	h.mu.Lock()
	if h.st != openRW {
		h.mu.Unlock()
		return merrors.InvalidArgument
	}
	e, ok := (*dir).Find(name)
	if !ok {
		h.mu.Unlock()
		return merrors.NotFound
	}
	if err := (*dir).Erase(name); err != nil {
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()
	return h.deallocateNamedRegion(e.Offset)
}

func (h *Heap) deallocateNamedRegion(offset int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	chunk := int(offset / chunkSize)
	if chunk < 0 || chunk >= h.cdir.NumChunks() {
		return merrors.InvalidArgument
	}
	e := h.cdir.Entry(chunk)
	if e.Bin >= h.sizes.NumSmallBins() {
		return h.deallocateLargeLocked(chunk)
	}
	return h.deallocateSmallLocked(chunk, offset)
}

// ConstructAnonymous allocates one T with no name and records it in
// the anonymous directory, returning a handle usable with
// DestroyAnonymous; anonymous entries have no name key
// and are reachable only by iteration.
func ConstructAnonymous[T any](h *Heap) (*T, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st != openRW {
		return nil, 0, merrors.InvalidArgument
	}
	offset, err := h.allocateLockedForNamed(sizeOf[T]())
	if err != nil {
		return nil, 0, err
	}
	mem := h.seg.Bytes()[offset : offset+sizeOf[T]()]
	for i := range mem {
		mem[i] = 0
	}
	idx := h.anon.Insert(attrdir.Entry{
		Offset: offset,
		Length: 1,
		TypeID: typeID[T](),
	})
	ptr := (*T)(unsafe.Pointer(&mem[0]))
	return ptr, idx, nil
}

// DestroyAnonymous deallocates the anonymous entry at idx, as
// returned by ConstructAnonymous.
func DestroyAnonymous(h *Heap, idx int) error {
	h.mu.Lock()
	entries := h.anon.Iterate()
	if idx < 0 || idx >= len(entries) {
		h.mu.Unlock()
		return merrors.NotFound
	}
	offset := entries[idx].Offset
	if err := h.anon.Erase(idx); err != nil {
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()
	return h.deallocateNamedRegion(offset)
}

// Offset is a self-relative pointer: it stores target − self as a
// signed byte displacement so that it survives the segment re-mapping
// at a different virtual base across close/open. The zero value,
// like a nil pointer, must never be dereferenced.
type Offset[T any] struct {
	delta int64
}

// OffsetTo constructs an Offset stored at selfAddr and pointing at
// target.
func OffsetTo[T any](selfAddr uintptr, target *T) Offset[T] {
	if target == nil {
		return Offset[T]{}
	}
	return Offset[T]{delta: int64(uintptr(unsafe.Pointer(target))) - int64(selfAddr)}
}

// Deref recomputes the pointee's address from selfAddr (the address
// the Offset value itself currently lives at) plus the stored delta.
func (o Offset[T]) Deref(selfAddr uintptr) *T {
	if o.delta == 0 {
		return nil
	}
	return (*T)(unsafe.Pointer(uintptr(int64(selfAddr) + o.delta)))
}

// IsNil reports whether o was never assigned a target.
func (o Offset[T]) IsNil() bool { return o.delta == 0 }
