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

// Package ioplatform provides the platform I/O primitives the
// segment storage layer is built on: reserve/commit virtual address
// ranges, create/extend/remove backing files, punch holes, sparse
// copy, fsync, and (optionally) soft-dirty pagemap inspection. The
// reserve-then-commit pattern and the per-OS build-tag split mirror
// vm.mapVM/vm.Malloc (vm/malloc_linux.go, vm/malloc_darwin.go,
// vm/malloc_windows.go) and the mmap/unmap/resize trio from
// tenant/dcache (file_linux.go, file_other.go), generalized from a
// single fixed-size VM arena to a segment that grows by mapping
// additional backing blocks.
package ioplatform

import (
	"fmt"
	"os"

	"github.com/metall-go/metall/internal/merrors"
)

// Reservation is a contiguous range of reserved (but not necessarily
// committed) virtual address space.
type Reservation struct {
	mem []byte
}

// Bytes returns the full reserved range as a byte slice. Bytes
// outside committed blocks must not be touched; doing so will fault.
func (r *Reservation) Bytes() []byte { return r.mem }

// Base returns the starting address of the reservation.
func (r *Reservation) Base() uintptr {
	if len(r.mem) == 0 {
		return 0
	}
	return addrOf(r.mem)
}

func ioErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{merrors.IoError}, args...)...)
}

// CreateBackingFile creates a new backing file at path and sizes it
// to size bytes (sparse where supported).
func CreateBackingFile(path string, size int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, ioErrorf("create backing file %s: %w", path, err)
	}
	if err := extendFile(f, size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, ioErrorf("extend backing file %s: %w", path, err)
	}
	return f, nil
}

// OpenBackingFile opens an existing backing file read-write (or
// read-only) for re-mapping on open().
func OpenBackingFile(path string, readOnly bool) (*os.File, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, ioErrorf("open backing file %s: %w", path, err)
	}
	return f, nil
}

// ExtendBackingFile grows an existing backing file to newSize bytes.
func ExtendBackingFile(f *os.File, newSize int64) error {
	if err := extendFile(f, newSize); err != nil {
		return ioErrorf("extend backing file: %w", err)
	}
	return nil
}

// RemoveBackingFile removes a backing file from disk.
func RemoveBackingFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ioErrorf("remove backing file %s: %w", path, err)
	}
	return nil
}

// Fsync flushes a file's contents and metadata to disk.
func Fsync(f *os.File) error {
	if err := f.Sync(); err != nil {
		return ioErrorf("fsync: %w", err)
	}
	return nil
}
