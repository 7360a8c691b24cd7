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

package sizeclass

import "testing"

func TestBuildMonotonicAndMinimal(t *testing.T) {
	tab := Build(2<<20, 1<<30)
	for s := uint64(1); s <= 4096; s *= 3 {
		bin := tab.BinOf(s)
		if bin >= tab.NumBins() {
			t.Fatalf("BinOf(%d) out of range: %d", s, bin)
		}
		got := tab.SizeOf(bin)
		if got < s {
			t.Fatalf("SizeOf(BinOf(%d)) = %d, want >= %d", s, got, s)
		}
		if bin > 0 && tab.SizeOf(bin-1) >= s {
			t.Fatalf("SizeOf(BinOf(%d)-1) = %d is not less than %d, bin not minimal", s, tab.SizeOf(bin-1), s)
		}
	}
}

func TestBinOfSizeOfRoundTrip(t *testing.T) {
	tab := Build(2<<20, 1<<30)
	for b := 0; b < tab.NumBins(); b++ {
		size := tab.SizeOf(b)
		if got := tab.BinOf(size); got != b {
			t.Fatalf("BinOf(SizeOf(%d)) = %d, want %d", b, got, b)
		}
	}
}

func TestSmallBinsBelowHalfChunk(t *testing.T) {
	tab := Build(2<<20, 1<<30)
	for b := 0; b < tab.NumSmallBins(); b++ {
		if tab.SizeOf(b) > (2<<20)/2 {
			t.Fatalf("small bin %d has size %d exceeding half the chunk size", b, tab.SizeOf(b))
		}
	}
	if tab.SizeOf(tab.NumSmallBins()) < 2<<20 {
		t.Fatalf("first large bin %d should be at least one chunk", tab.NumSmallBins())
	}
}

func TestIsSmall(t *testing.T) {
	tab := Build(2<<20, 1<<30)
	if !tab.IsSmall(0) {
		t.Fatalf("bin 0 should be small")
	}
	if tab.IsSmall(tab.NumBins() - 1) {
		t.Fatalf("last bin should not be small")
	}
}
