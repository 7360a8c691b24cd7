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

// Package segment implements the persistent heap's segment storage:
// one contiguous virtual address range, backed by a growing set of
// file-backed blocks, mapped MAP_SHARED so that writes propagate
// straight to disk. The reserve-the-whole-range /
// commit-blocks-on-demand structure mirrors vm.mapVM + vm.Malloc
// (a single fixed 4GiB VMM arena, reserved once and selectively
// committed), generalized here to an arbitrary number
// of growable, numbered backing files, the way tenant/dcache manages
// one growable backing file per cache entry (create, fallocate-extend,
// mmap, unmap, remove).
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/metall-go/metall/internal/ioplatform"
	"github.com/metall-go/metall/internal/merrors"
)

const blockFilePrefix = "block-"

// Header is the fixed-size record at the very start of the segment,
// letting any in-region address recover the kernel that owns it,
// which the offset-pointer contract depends on. It mirrors
// metall::kernel::segment_header, which holds exactly one
// pointer-sized field.
type Header struct {
	KernelAddr uintptr
}

const HeaderSize = int(unsafe.Sizeof(Header{}))

// Segment owns one contiguous virtual range composed of numbered
// backing blocks under <root>/segment/block-NNNN.
type Segment struct {
	dir        string
	blockSize  int64
	maxSize    int64
	readOnly   bool
	reserved   *ioplatform.Reservation
	blockFiles []*os.File
	size       int64 // currently committed size (sum of block sizes mapped so far)
}

func blockPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%04d", blockFilePrefix, i))
}

// Create reserves the full maxSize virtual range and maps the first
// block (blockSize bytes) over it with read-write protection.
func Create(dir string, blockSize, maxSize int64) (*Segment, error) {
	if blockSize <= 0 || maxSize < blockSize {
		return nil, merrors.InvalidArgument
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: mkdir segment dir: %v", merrors.IoError, err)
	}
	s := &Segment{dir: dir, blockSize: blockSize, maxSize: maxSize}
	resv, err := ioplatform.ReserveRange(maxSize)
	if err != nil {
		return nil, err
	}
	s.reserved = resv
	if err := s.commitNextBlock(blockSize); err != nil {
		resv.Unmap()
		return nil, err
	}
	return s, nil
}

// Open re-reserves the full maxSize virtual range and re-maps
// numBlocks existing blocks, in order, at their original offsets.
func Open(dir string, blockSize, maxSize int64, numBlocks int, readOnly bool) (*Segment, error) {
	if numBlocks <= 0 {
		return nil, merrors.InvalidArgument
	}
	s := &Segment{dir: dir, blockSize: blockSize, maxSize: maxSize, readOnly: readOnly}
	resv, err := ioplatform.ReserveRange(maxSize)
	if err != nil {
		return nil, err
	}
	s.reserved = resv
	for i := 0; i < numBlocks; i++ {
		f, err := ioplatform.OpenBackingFile(blockPath(dir, i), readOnly)
		if err != nil {
			s.rollback()
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			s.rollback()
			return nil, fmt.Errorf("%w: stat block %d: %v", merrors.IoError, i, err)
		}
		if err := resv.CommitBlock(s.size, info.Size(), f, readOnly); err != nil {
			f.Close()
			s.rollback()
			return nil, err
		}
		s.blockFiles = append(s.blockFiles, f)
		s.size += info.Size()
	}
	return s, nil
}

// rollback unwinds a partially-opened segment on failure: Open calls
// it when mapping any block fails, and it closes every block file,
// unmaps the reservation and resets the size to 0.
func (s *Segment) rollback() {
	for _, f := range s.blockFiles {
		f.Close()
	}
	s.blockFiles = nil
	if s.reserved != nil {
		s.reserved.Unmap()
		s.reserved = nil
	}
	s.size = 0
}

func (s *Segment) commitNextBlock(size int64) error {
	idx := len(s.blockFiles)
	path := blockPath(s.dir, idx)
	f, err := ioplatform.CreateBackingFile(path, size)
	if err != nil {
		return err
	}
	if err := s.reserved.CommitBlock(s.size, size, f, s.readOnly); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	s.blockFiles = append(s.blockFiles, f)
	s.size += size
	return nil
}

// Grow extends the segment by at least extra bytes, adding one or
// more new backing blocks of Segment's configured blockSize. Growth
// is never automatic past maxSize; the caller must check
// CanGrow(extra) or simply attempt Grow and handle OutOfMemory.
func (s *Segment) Grow(extra int64) error {
	if extra <= 0 {
		return nil
	}
	if s.size+extra > s.maxSize {
		return merrors.OutOfMemory
	}
	before := s.size
	beforeBlocks := len(s.blockFiles)
	remaining := extra
	for remaining > 0 {
		step := s.blockSize
		if step > remaining {
			// still allocate a full block's worth of backing storage;
			// callers ask for "at least extra", not "exactly extra"
			step = s.blockSize
		}
		if err := s.commitNextBlock(step); err != nil {
			// roll back to the size and blocks we had before this Grow call
			for len(s.blockFiles) > beforeBlocks {
				i := len(s.blockFiles) - 1
				s.blockFiles[i].Close()
				os.Remove(blockPath(s.dir, i))
				s.blockFiles = s.blockFiles[:i]
			}
			s.size = before
			return err
		}
		remaining -= step
	}
	return nil
}

// CanGrow reports whether Grow(extra) would stay within maxSize.
func (s *Segment) CanGrow(extra int64) bool {
	return s.size+extra <= s.maxSize
}

// Bytes returns the currently-committed, addressable region of the
// segment: Bytes()[0:Size()] is valid to read and (unless opened
// read-only) write.
func (s *Segment) Bytes() []byte {
	return s.reserved.Bytes()[:s.size:s.size]
}

// Size returns the number of bytes currently committed.
func (s *Segment) Size() int64 { return s.size }

// NumBlocks returns the number of backing block files mapped so far.
func (s *Segment) NumBlocks() int { return len(s.blockFiles) }

// Base returns the segment's virtual base address.
func (s *Segment) Base() uintptr { return s.reserved.Base() }

// Header returns a pointer to the segment header at the very start
// of the segment.
func (s *Segment) Header() *Header {
	return (*Header)(unsafe.Pointer(&s.reserved.Bytes()[0]))
}

// FreeRange releases backing storage for [offset, offset+length) --
// used when a large-object run is deallocated -- by punching a hole
// in the owning block file(s) and hinting the kernel to drop the
// pages. Every backing block is the same blockSize, but a free run is
// only constrained to a run of consecutive chunks, not to a single
// block, so the range is split at block boundaries and each
// underlying block gets its own PunchHole call.
func (s *Segment) FreeRange(offset, length int64) error {
	if offset < 0 || length <= 0 || offset+length > s.size {
		return merrors.InvalidArgument
	}
	end := offset + length
	for cur := offset; cur < end; {
		blockIdx := int(cur / s.blockSize)
		if blockIdx < 0 || blockIdx >= len(s.blockFiles) {
			return merrors.InvalidArgument
		}
		blockStart := int64(blockIdx) * s.blockSize
		inBlockOffset := cur - blockStart
		chunkEnd := blockStart + s.blockSize
		if chunkEnd > end {
			chunkEnd = end
		}
		runLen := chunkEnd - cur
		f := s.blockFiles[blockIdx]
		if err := ioplatform.PunchHole(f, inBlockOffset, runLen); err != nil && err != merrors.UnsupportedPlatform {
			return err
		}
		cur = chunkEnd
	}
	mem := s.Bytes()[offset:end]
	return ioplatform.HintUnused(mem)
}

// Sync flushes dirty pages (msync) and fsyncs every backing file.
func (s *Segment) Sync() error {
	if err := ioplatform.Msync(s.Bytes()); err != nil {
		return err
	}
	for _, f := range s.blockFiles {
		if err := ioplatform.Fsync(f); err != nil {
			return err
		}
	}
	return nil
}

// Close unmaps the reservation in reverse order and closes every
// backing file descriptor.
func (s *Segment) Close() error {
	var firstErr error
	if s.reserved != nil {
		if err := s.reserved.Unmap(); err != nil {
			firstErr = err
		}
		s.reserved = nil
	}
	for i := len(s.blockFiles) - 1; i >= 0; i-- {
		if err := s.blockFiles[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.blockFiles = nil
	return firstErr
}

// Destroy removes backing block files 0..numBlocks-1 under dir; the
// segment must already be closed.
func Destroy(dir string, numBlocks int) error {
	var firstErr error
	for i := 0; i < numBlocks; i++ {
		if err := ioplatform.RemoveBackingFile(blockPath(dir, i)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
