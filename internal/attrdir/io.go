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

package attrdir

import "github.com/metall-go/metall/internal/metacodec"

// Save writes a keyed table's entries to path, one record per
// directory line.
func (t *Table) Save(path string) error {
	entries := t.Iterate()
	records := make([][]string, len(entries))
	for i, e := range entries {
		records[i] = entryToRecord(e)
	}
	return metacodec.WriteFile(path, records)
}

// Load populates an empty keyed table from path.
func (t *Table) Load(path string) error {
	records, err := metacodec.ReadFile(path)
	if err != nil {
		return err
	}
	for _, rec := range records {
		e, err := recordToEntry(rec)
		if err != nil {
			return err
		}
		if err := t.Insert(e); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the anonymous directory's entries to path.
func (a *AnonymousList) Save(path string) error {
	records := make([][]string, len(a.entries))
	for i, e := range a.entries {
		records[i] = entryToRecord(e)
	}
	return metacodec.WriteFile(path, records)
}

// Load populates an empty anonymous directory from path.
func (a *AnonymousList) Load(path string) error {
	records, err := metacodec.ReadFile(path)
	if err != nil {
		return err
	}
	for _, rec := range records {
		e, err := recordToEntry(rec)
		if err != nil {
			return err
		}
		a.Insert(e)
	}
	return nil
}

// Accessor reads the three attribute directory files directly off
// disk without mapping the segment, used by the
// datastore_ls/mpi_datastore_ls CLIs (mirroring how
// cmd/sdb/describe.go inspects blockfmt trailers without executing a
// query against the live segment).
type Accessor struct {
	Named     []Entry
	Unique    []Entry
	Anonymous []Entry
}

// OpenAccessor parses the named/unique/anonymous directory files
// under metaDir (as written by Table.Save/AnonymousList.Save) without
// constructing live hash tables or touching the segment.
func OpenAccessor(metaDir string) (*Accessor, error) {
	acc := &Accessor{}
	for _, kind := range []struct {
		file string
		dst  *[]Entry
	}{
		{metaDir + "/named_object_directory", &acc.Named},
		{metaDir + "/unique_object_directory", &acc.Unique},
		{metaDir + "/anonymous_object_directory", &acc.Anonymous},
	} {
		records, err := metacodec.ReadFile(kind.file)
		if err != nil {
			return nil, err
		}
		entries := make([]Entry, 0, len(records))
		for _, rec := range records {
			e, err := recordToEntry(rec)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
		*kind.dst = entries
	}
	return acc, nil
}
