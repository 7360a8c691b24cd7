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

package segment

import (
	"path/filepath"
	"testing"
)

const testBlockSize = 1 << 16 // 64 KiB, small enough for quick tests
const testMaxSize = 1 << 24   // 16 MiB

func TestCreateWriteCloseOpenPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "segment")

	s, err := Create(dir, testBlockSize, testMaxSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Size() != testBlockSize {
		t.Fatalf("Size() = %d, want %d", s.Size(), testBlockSize)
	}
	mem := s.Bytes()
	mem[0] = 0xAB
	mem[testBlockSize-1] = 0xCD
	if err := s.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, testBlockSize, testMaxSize, 1, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s2.Close()
	mem2 := s2.Bytes()
	if mem2[0] != 0xAB || mem2[testBlockSize-1] != 0xCD {
		t.Fatalf("reopened segment lost its contents")
	}
}

func TestGrowAddsBlocksAndRespectsMax(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "segment")
	s, err := Create(dir, testBlockSize, 2*testBlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	if err := s.Grow(1); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if s.Size() != 2*testBlockSize {
		t.Fatalf("Size() = %d, want %d", s.Size(), 2*testBlockSize)
	}
	if s.NumBlocks() != 2 {
		t.Fatalf("NumBlocks() = %d, want 2", s.NumBlocks())
	}
	if err := s.Grow(1); err == nil {
		t.Fatalf("expected Grow past max size to fail")
	}
}

func TestCanGrow(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "segment")
	s, err := Create(dir, testBlockSize, 2*testBlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()
	if !s.CanGrow(1) {
		t.Fatalf("expected CanGrow(1) to be true with room for one more block")
	}
	if err := s.Grow(1); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if s.CanGrow(1) {
		t.Fatalf("expected CanGrow(1) to be false once max size is reached")
	}
}

func TestFreeRangeSpansMultipleBlocks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "segment")
	s, err := Create(dir, testBlockSize, 4*testBlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	if err := s.Grow(2 * testBlockSize); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if s.NumBlocks() != 3 {
		t.Fatalf("NumBlocks() = %d, want 3", s.NumBlocks())
	}

	// a run starting half a block before the end of block 0 and running
	// into block 2 straddles two block boundaries.
	offset := testBlockSize - testBlockSize/2
	length := int64(2 * testBlockSize)
	if err := s.FreeRange(int64(offset), length); err != nil {
		t.Fatalf("FreeRange spanning multiple blocks: %v", err)
	}
}

func TestFreeRangeRejectsOutOfBounds(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "segment")
	s, err := Create(dir, testBlockSize, testMaxSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	if err := s.FreeRange(int64(testBlockSize), 1); err == nil {
		t.Fatalf("expected FreeRange past committed size to fail")
	}
}

func TestHeaderRoundTrips(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "segment")
	s, err := Create(dir, testBlockSize, testMaxSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()
	s.Header().KernelAddr = 0xdeadbeef
	if s.Header().KernelAddr != 0xdeadbeef {
		t.Fatalf("header write/read mismatch")
	}
}
