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

package bindir

import (
	"strconv"

	"github.com/metall-go/metall/internal/merrors"
	"github.com/metall-go/metall/internal/metacodec"
)

// Save writes "<bin> <chunk>" for every listed chunk, front-to-back
// per bin.
func (d *Dir) Save(path string) error {
	entries := d.Entries()
	records := make([][]string, len(entries))
	for i, e := range entries {
		records[i] = []string{strconv.Itoa(e[0]), strconv.Itoa(e[1])}
	}
	return metacodec.WriteFile(path, records)
}

// Load rebuilds a bin directory from a previously Saved file. Entries
// were saved in front-to-back MRU order and are reinserted last to
// first, so the in-memory list order (not just its membership) is
// restored.
func Load(path string, numBins int) (*Dir, error) {
	records, err := metacodec.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d := New(numBins)
	// Entries were written front-to-back; Insert pushes to the front,
	// so replaying in reverse restores the original order.
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if len(rec) < 2 {
			return nil, merrors.Inconsistent
		}
		b, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, merrors.Inconsistent
		}
		c, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, merrors.Inconsistent
		}
		if b < 0 || b >= numBins {
			return nil, merrors.Inconsistent
		}
		d.Insert(b, c)
	}
	return d, nil
}
