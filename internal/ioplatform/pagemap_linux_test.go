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

import "testing"

func TestReadSoftDirtyReturnsOneEntryPerPage(t *testing.T) {
	mem, err := ReserveRange(2 << pageShift)
	if err != nil {
		t.Fatalf("ReserveRange: %v", err)
	}
	defer mem.Unmap()

	start := mem.Base()
	dirty, err := ReadSoftDirty([]AddrRange{{Start: start, End: start + 2<<pageShift}})
	if err != nil {
		t.Fatalf("ReadSoftDirty: %v", err)
	}
	if len(dirty) != 2 {
		t.Fatalf("got %d entries, want 2 (one per page)", len(dirty))
	}
}

func TestResetSoftDirtyDoesNotError(t *testing.T) {
	if err := ResetSoftDirty(); err != nil {
		t.Fatalf("ResetSoftDirty: %v", err)
	}
}
