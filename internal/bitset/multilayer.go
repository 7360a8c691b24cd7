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

package bitset

// Multilayer is a multilayer bitset: layer 0 tracks the actual bits,
// and each layer above it summarizes 64 words of the layer below with
// a single bit that is 1 only when the corresponding lower word is
// completely full. This lets FindFirstUnsetAndSet skip whole full
// regions in O(layers) instead of O(n/64). Up to 4 layers supports
// n <= 64^4, as required by the data model.
type Multilayer struct {
	layers []*Flat
	n      int
}

const maxLayers = 4

// NewMultilayer builds a Multilayer bitset able to track n bits.
func NewMultilayer(n int) *Multilayer {
	m := &Multilayer{n: n}
	size := n
	for size > 0 {
		m.layers = append(m.layers, NewFlat(size))
		if size == 1 {
			break
		}
		size = (size + wordBits - 1) / wordBits
		if len(m.layers) >= maxLayers && size > 1 {
			// n is assumed to fit within maxLayers per the data
			// model's N <= 64^4 bound; collapse any remainder into
			// the final layer rather than silently truncating.
			size = 1
		}
	}
	return m
}

// Len returns the number of tracked bits (layer 0's size).
func (m *Multilayer) Len() int { return m.n }

// Get reports whether bit i is set.
func (m *Multilayer) Get(i int) bool {
	return m.layers[0].Get(i)
}

// propagate propagates a just-became-full (or just-stopped-being-full)
// word at (layer, wordIndex) up through the summary layers.
func (m *Multilayer) propagate(layer, wordIdx int) {
	for l := layer; l+1 < len(m.layers); l++ {
		lo := m.layers[l]
		word := wordIdx
		start := word * wordBits
		end := start + wordBits
		if end > lo.n {
			end = lo.n
		}
		full := end > start
		for i := start; i < end; i++ {
			if !lo.Get(i) {
				full = false
				break
			}
		}
		upBit := wordIdx
		if full {
			m.layers[l+1].Set(upBit)
		} else {
			m.layers[l+1].Reset(upBit)
		}
		wordIdx /= wordBits
	}
}

// Set marks bit i as set and updates summary layers.
func (m *Multilayer) Set(i int) {
	m.layers[0].Set(i)
	m.propagate(0, i/wordBits)
}

// Reset marks bit i as unset and updates summary layers.
func (m *Multilayer) Reset(i int) {
	m.layers[0].Reset(i)
	m.propagate(0, i/wordBits)
}

// PopCount returns the number of set bits across the tracked range.
func (m *Multilayer) PopCount() int {
	return m.layers[0].PopCount()
}

// FindFirstUnsetAndSet walks from the top summary layer down,
// skipping any 64-bit region whose summary bit says it is full, then
// sets and returns the lowest unset index; returns (0, false) if
// every tracked bit is set.
func (m *Multilayer) FindFirstUnsetAndSet() (int, bool) {
	if len(m.layers) == 1 {
		return m.layers[0].FindFirstUnsetAndSet()
	}
	top := len(m.layers) - 1
	idx := 0
	for l := top; l > 0; l-- {
		// search within the 64-wide window starting at idx*64 in
		// this layer for an unset (non-full-below) bit
		base := idx * wordBits
		found := -1
		limit := base + wordBits
		if limit > m.layers[l].n {
			limit = m.layers[l].n
		}
		for i := base; i < limit; i++ {
			if !m.layers[l].Get(i) {
				found = i
				break
			}
		}
		if found < 0 {
			return 0, false
		}
		idx = found
	}
	// idx now indexes into layer 0's word-granular position; scan
	// that word directly (propagate guarantees at least one unset
	// bit exists in [idx*64, idx*64+64)).
	lo := m.layers[0]
	base := idx * wordBits
	limit := base + wordBits
	if limit > lo.n {
		limit = lo.n
	}
	for i := base; i < limit; i++ {
		if !lo.Get(i) {
			m.Set(i)
			return i, true
		}
	}
	return 0, false
}

// FindAndSetMany returns n distinct previously-unset indices in
// ascending order and marks them set, or (nil, false) if fewer than n
// bits are free (in which case no bits are modified).
func (m *Multilayer) FindAndSetMany(n int) ([]int, bool) {
	if n <= 0 {
		return nil, true
	}
	if m.n-m.PopCount() < n {
		return nil, false
	}
	out := make([]int, 0, n)
	for len(out) < n {
		i, ok := m.FindFirstUnsetAndSet()
		if !ok {
			// shouldn't happen given the PopCount check above, but
			// roll back what we've set so far to keep the operation
			// atomic on failure
			for _, j := range out {
				m.Reset(j)
			}
			return nil, false
		}
		out = append(out, i)
	}
	return out, true
}
