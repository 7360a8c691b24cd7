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
	"encoding/binary"
	"os"
)

const (
	pagemapEntrySize = 8
	softDirtyBit     = uint64(1) << 55
	pageShift        = 12
)

// AddrRange is a [Start, End) byte range of a process's address
// space to inspect for soft-dirty pages.
type AddrRange struct {
	Start, End uintptr
}

// ReadSoftDirty reports, for each page in ranges, whether the
// soft-dirty bit is set in /proc/self/pagemap. This backs an optional
// incremental-snapshot path; it is not required for correctness of
// the default Snapshot operation, which always does a full
// sparse/clone copy.
func ReadSoftDirty(ranges []AddrRange) ([]bool, error) {
	f, err := os.Open("/proc/self/pagemap")
	if err != nil {
		return nil, ioErrorf("open pagemap: %w", err)
	}
	defer f.Close()

	var dirty []bool
	buf := make([]byte, pagemapEntrySize)
	for _, r := range ranges {
		for addr := r.Start; addr < r.End; addr += 1 << pageShift {
			pfn := addr >> pageShift
			off := int64(pfn) * pagemapEntrySize
			if _, err := f.ReadAt(buf, off); err != nil {
				return nil, ioErrorf("read pagemap at %#x: %w", addr, err)
			}
			entry := binary.LittleEndian.Uint64(buf)
			dirty = append(dirty, entry&softDirtyBit != 0)
		}
	}
	return dirty, nil
}

// ResetSoftDirty clears the soft-dirty bit for the whole process,
// so a subsequent ReadSoftDirty only reports pages touched since this
// call.
func ResetSoftDirty() error {
	f, err := os.OpenFile("/proc/self/clear_refs", os.O_WRONLY, 0)
	if err != nil {
		return ioErrorf("open clear_refs: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString("4\n"); err != nil {
		return ioErrorf("reset soft-dirty: %w", err)
	}
	return nil
}
