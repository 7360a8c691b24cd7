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

//go:build windows

package ioplatform

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ReserveRange reserves size bytes of virtual address space via
// VirtualAlloc(MEM_RESERVE), the same call vm.mapVM uses on Windows
// before committing the usable sub-range.
func ReserveRange(size int64) (*Reservation, error) {
	base, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, ioErrorf("VirtualAlloc(reserve): %w", err)
	}
	hdr := (*[1 << 40]byte)(unsafe.Pointer(base))
	return &Reservation{mem: hdr[:size:size]}, nil
}

// CommitBlock maps f's contents over r.mem[offset:offset+size] using
// CreateFileMapping + MapViewOfFileEx at the fixed address, the
// Windows equivalent of the Linux/Darwin MAP_FIXED commit.
func (r *Reservation) CommitBlock(offset, size int64, f *os.File, readOnly bool) error {
	if offset < 0 || size < 0 || offset+size > int64(len(r.mem)) {
		return ioErrorf("commit block [%d,%d) out of reservation bounds", offset, offset+size)
	}
	prot := uint32(windows.PAGE_READWRITE)
	access := uint32(windows.FILE_MAP_WRITE)
	if readOnly {
		prot = windows.PAGE_READONLY
		access = windows.FILE_MAP_READ
	}
	mh, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, prot, 0, 0, nil)
	if err != nil {
		return ioErrorf("CreateFileMapping: %w", err)
	}
	defer windows.CloseHandle(mh)
	addr := addrOf(r.mem) + uintptr(offset)
	_, err = windows.MapViewOfFileEx(mh, access, 0, 0, uintptr(size), addr)
	if err != nil {
		return ioErrorf("MapViewOfFileEx at offset %d: %w", offset, err)
	}
	return nil
}

// Unmap releases the reservation.
func (r *Reservation) Unmap() error {
	if len(r.mem) == 0 {
		return nil
	}
	err := windows.VirtualFree(addrOf(r.mem), 0, windows.MEM_RELEASE)
	r.mem = nil
	if err != nil {
		return ioErrorf("VirtualFree: %w", err)
	}
	return nil
}

// Msync flushes mem to its backing file via FlushViewOfFile.
func Msync(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := windows.FlushViewOfFile(addrOf(mem), uintptr(len(mem))); err != nil {
		return ioErrorf("FlushViewOfFile: %w", err)
	}
	return nil
}

// HintUnused is a best-effort no-op on Windows; a MEM_RESET
// implementation is a known gap, mirroring vm/malloc_windows.go's
// hintUnused ("implement me!").
func HintUnused(mem []byte) error { return nil }
