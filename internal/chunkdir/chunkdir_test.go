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

package chunkdir

import (
	"path/filepath"
	"testing"
)

func TestNewMarksAllChunksFree(t *testing.T) {
	d := New(4)
	for i := 0; i < 4; i++ {
		if d.Entry(i).State != Free {
			t.Fatalf("chunk %d state = %v, want Free", i, d.Entry(i).State)
		}
	}
	head, ok := d.FindFreeLargeRun(4)
	if !ok || head != 0 {
		t.Fatalf("FindFreeLargeRun(4) on a fresh directory = (%d, %v), want (0, true)", head, ok)
	}
}

func TestMarkSmallHostGrowsDirectoryPastCapacity(t *testing.T) {
	d := New(1)
	// chunk 1 is past the directory's initial capacity of 1; MarkSmallHost
	// must grow the directory itself rather than index out of range.
	d.MarkSmallHost(1, 0, 8)
	if d.NumChunks() < 2 {
		t.Fatalf("NumChunks() = %d, want >= 2 after carving chunk 1", d.NumChunks())
	}
	if d.Entry(1).State != SmallHost {
		t.Fatalf("chunk 1 state = %v, want SmallHost", d.Entry(1).State)
	}
}

func TestMarkSmallHostAllocateFreeSlot(t *testing.T) {
	d := New(4)
	d.MarkSmallHost(0, 2, 8)
	for i := 0; i < 8; i++ {
		slot, ok := d.AllocateSlot(0)
		if !ok || slot != i {
			t.Fatalf("AllocateSlot iteration %d: got (%d, %v)", i, slot, ok)
		}
	}
	if _, ok := d.AllocateSlot(0); ok {
		t.Fatalf("expected chunk to report full")
	}
	if d.PopCountSlots(0) != 8 {
		t.Fatalf("PopCountSlots = %d, want 8", d.PopCountSlots(0))
	}

	notFull, becameFree, err := d.FreeSlot(0, 3)
	if err != nil {
		t.Fatalf("FreeSlot: %v", err)
	}
	if !notFull || becameFree {
		t.Fatalf("freeing one of 8 slots should transition full->not-full only, got (%v, %v)", notFull, becameFree)
	}

	for i := 0; i < 8; i++ {
		if i == 3 {
			continue
		}
		if _, _, err := d.FreeSlot(0, i); err != nil {
			t.Fatalf("FreeSlot(%d): %v", i, err)
		}
	}
	_, becameFree, err = d.FreeSlot(0, 3)
	if err != nil {
		t.Fatalf("FreeSlot: %v", err)
	}
	if !becameFree {
		t.Fatalf("expected chunk to become free once all slots are released")
	}
	if d.Entry(0).State != Free {
		t.Fatalf("chunk should be Free after all slots released, got %v", d.Entry(0).State)
	}
}

func TestMarkLargeRunAndFindFreeRun(t *testing.T) {
	d := New(8)
	d.MarkLargeRun(2, 3, 10)
	if d.Entry(2).State != LargeHead || d.Entry(2).RunLen != 3 {
		t.Fatalf("head entry wrong: %+v", d.Entry(2))
	}
	for i := 3; i < 5; i++ {
		if d.Entry(i).State != LargeCont {
			t.Fatalf("chunk %d should be LargeCont, got %v", i, d.Entry(i).State)
		}
	}
	// chunks 0,1 and 5,6,7 are free; lowest free run of 2 should start at 0
	head, ok := d.FindFreeLargeRun(2)
	if !ok || head != 0 {
		t.Fatalf("FindFreeLargeRun(2) = (%d, %v), want (0, true)", head, ok)
	}

	d.MarkFree(2, 3)
	if d.Entry(2).State != Free || d.Entry(3).State != Free || d.Entry(4).State != Free {
		t.Fatalf("MarkFree did not clear the run")
	}
	if !d.AllSmallHostsAndRunsEmpty() {
		t.Fatalf("expected no small hosts/runs after MarkFree")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	d := New(4)
	d.MarkSmallHost(0, 1, 4)
	d.AllocateSlot(0)
	d.AllocateSlot(0)
	d.MarkLargeRun(1, 3, 5)

	path := filepath.Join(t.TempDir(), "chunk_directory")
	if err := d.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, 4)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NumChunks() != d.NumChunks() {
		t.Fatalf("NumChunks mismatch: %d vs %d", loaded.NumChunks(), d.NumChunks())
	}
	if loaded.Entry(0).State != SmallHost || loaded.Entry(0).Occupied != 2 {
		t.Fatalf("chunk 0 mismatch after reload: %+v", loaded.Entry(0))
	}
	if loaded.Entry(1).State != LargeHead || loaded.Entry(1).RunLen != 3 {
		t.Fatalf("chunk 1 mismatch after reload: %+v", loaded.Entry(1))
	}
	if loaded.Entry(2).State != LargeCont || loaded.Entry(3).State != LargeCont {
		t.Fatalf("continuation chunks mismatch after reload")
	}
}
