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

//go:build linux || darwin

package ioplatform

import (
	"os"

	"golang.org/x/sys/unix"
)

// ReserveRange reserves size bytes of virtual address space with no
// access permissions, the same PROT_NONE-then-Mprotect-subranges
// pattern vm.mapVM uses to reserve its 4GiB VMM arena before
// selectively committing pages.
func ReserveRange(size int64) (*Reservation, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, ioErrorf("reserve %d bytes: %w", size, err)
	}
	return &Reservation{mem: mem}, nil
}

// mmapFixed maps fd at the exact address addr with MAP_FIXED,
// overlaying a committed, file-backed block on top of a previously
// PROT_NONE-reserved sub-range. Unlike an anonymous commit (which can
// be done with a plain Mprotect, as vm.mapVM does), giving a
// reservation file-backed contents requires a second mmap() call
// naming that address explicitly, so this goes one level below the
// unix.Mmap wrapper (which never takes a caller address) to the raw
// syscall.
func mmapFixed(addr, length uintptr, prot, flags, fd int, offset int64) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr, length,
		uintptr(prot), uintptr(flags),
		uintptr(fd), uintptr(offset),
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// CommitBlock maps the backing file f with MAP_SHARED over
// r.mem[offset:offset+size] using MAP_FIXED, replacing the PROT_NONE
// reservation for that sub-range with a live mapping backed by f.
func (r *Reservation) CommitBlock(offset, size int64, f *os.File, readOnly bool) error {
	if offset < 0 || size < 0 || offset+size > int64(len(r.mem)) {
		return ioErrorf("commit block [%d,%d) out of reservation bounds", offset, offset+size)
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	if readOnly {
		prot = unix.PROT_READ
	}
	addr := addrOf(r.mem) + uintptr(offset)
	err := mmapFixed(addr, uintptr(size), prot, unix.MAP_SHARED|unix.MAP_FIXED, int(f.Fd()), 0)
	if err != nil {
		return ioErrorf("commit block at offset %d: %w", offset, err)
	}
	return nil
}

// Unmap releases the entire reservation (and any committed blocks
// within it).
func (r *Reservation) Unmap() error {
	if len(r.mem) == 0 {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	if err != nil {
		return ioErrorf("munmap: %w", err)
	}
	return nil
}

// Msync flushes dirty pages within mem back to their backing files.
func Msync(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Msync(mem, unix.MS_SYNC); err != nil {
		return ioErrorf("msync: %w", err)
	}
	return nil
}

// HintUnused advises the kernel that mem's pages may be dropped,
// mirroring vm's hintUnused (MADV_FREE on Linux).
func HintUnused(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Madvise(mem, unix.MADV_FREE); err != nil {
		return ioErrorf("madvise: %w", err)
	}
	return nil
}
