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

// Package sizeclass builds the allocation-size-to-bin table,
// reproducing metall's object_size_manager.hpp: a hand-picked
// low-end table, a geometric class-2 table advancing in groups of
// four with a doubling offset, and power-of-two large classes up to
// the segment maximum. The C++ original resolves size -> bin with a
// closed-form clz formula computed at compile time; Go has no
// equivalent constexpr facility, so this package builds the table
// at run time in Build and looks sizes up with
// golang.org/x/exp/slices.BinarySearchFunc, the standard tool for
// sorted-slice lookups on a pre-1.21 std library (see
// plan/input.go's use of golang.org/x/exp/slices). Both techniques
// satisfy the same contract: size_of(bin_of(s)) >= s, minimal among
// bin sizes >= s, and bin_of(size_of(b)) == b.
package sizeclass

import (
	"golang.org/x/exp/slices"
)

// class1Table is the hand-picked low end, limiting internal
// fragmentation to <=25%, straight from metall's
// k_class1_small_size_table.
var class1Table = []uint64{
	8, 10, 12, 14, 16, 20, 24, 28, 32, 40, 48,
	56, 64, 80, 96, 112, 128, 160, 192, 224, 256,
}

const class2MinOffset = 64

// Table holds the compiled bin-number -> size table for a given
// chunk size and maximum object size.
type Table struct {
	sizes        []uint64
	numSmallBins int
	chunkSize    uint64
	maxSize      uint64
}

// Build constructs the size-class table for the given chunk size
// (power of two, at least the page size) and maximum object size
// (normally the segment's maximum size).
func Build(chunkSize, maxObjectSize uint64) *Table {
	t := &Table{chunkSize: chunkSize, maxSize: maxObjectSize}
	t.sizes = append(t.sizes, class1Table...)

	maxSmall := chunkSize / 2
	size := class1Table[len(class1Table)-1]
	offset := uint64(class2MinOffset)
	for size <= maxSmall {
		for i := 0; i < 4; i++ {
			size += offset
			if size > maxSmall {
				break
			}
			t.sizes = append(t.sizes, size)
		}
		offset *= 2
	}
	t.numSmallBins = len(t.sizes)

	for sz := chunkSize; sz <= maxObjectSize; sz *= 2 {
		t.sizes = append(t.sizes, sz)
	}
	return t
}

// NumBins returns the total number of bins (small + large).
func (t *Table) NumBins() int { return len(t.sizes) }

// NumSmallBins returns the number of small bins.
func (t *Table) NumSmallBins() int { return t.numSmallBins }

// SizeOf returns the slot size for bin number b.
func (t *Table) SizeOf(bin int) uint64 { return t.sizes[bin] }

// BinOf returns the lowest bin number b such that SizeOf(b) >= size.
// If size exceeds the largest configured bin it returns NumBins(), an
// out-of-range bin number; Heap.Allocate treats that as OutOfMemory.
func (t *Table) BinOf(size uint64) int {
	idx, found := slices.BinarySearchFunc(t.sizes, size, func(a, target uint64) int {
		switch {
		case a < target:
			return -1
		case a > target:
			return 1
		default:
			return 0
		}
	})
	if found {
		return idx
	}
	return idx
}

// MaxObjectSize returns the largest size this table can satisfy.
func (t *Table) MaxObjectSize() uint64 { return t.sizes[len(t.sizes)-1] }

// IsSmall reports whether bin is a small-object bin (as opposed to a
// large, chunk-run bin).
func (t *Table) IsSmall(bin int) bool { return bin < t.numSmallBins }
