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

//go:build linux

package ioplatform

import (
	"os"

	"golang.org/x/sys/unix"
)

func extendFile(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return err
	}
	return unix.Fallocate(int(f.Fd()), 0, 0, size)
}

// PunchHole releases the backing storage for [offset, offset+size)
// without changing the file's logical size, using
// fallocate(FALLOC_FL_PUNCH_HOLE|FALLOC_FL_KEEP_SIZE). This is used
// when a large-object run is deallocated, to give the pages back to
// the kernel immediately rather than waiting for a future sync.
func PunchHole(f *os.File, offset, size int64) error {
	const flags = unix.FALLOC_FL_PUNCH_HOLE | unix.FALLOC_FL_KEEP_SIZE
	if err := unix.Fallocate(int(f.Fd()), flags, offset, size); err != nil {
		return ioErrorf("punch hole [%d,%d): %w", offset, offset+size, err)
	}
	return nil
}

// CloneFile attempts a reflink (copy-on-write) clone of src to dst
// via the FICLONE ioctl, falling back to the caller's sparse copy
// when the underlying filesystem doesn't support it.
func CloneFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return ioErrorf("clone: open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return ioErrorf("clone: create %s: %w", dst, err)
	}
	defer out.Close()
	err = unix.IoctlFileClone(int(out.Fd()), int(in.Fd()))
	if err != nil {
		os.Remove(dst)
		return err // not wrapped: caller falls back to SparseCopy on any error
	}
	return nil
}
