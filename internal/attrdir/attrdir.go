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

// Package attrdir implements the three attribute directories: named,
// unique, and anonymous tables mapping a string key (or, for
// anonymous, no key at all) to {offset, length, type_id,
// description}. Named/unique entries are bucketed with siphash, the
// same keyed hash function vm/interphash.go and plan/input.go use for
// hash-join/radix-partition bucketing, generalized here from hashing
// row values to hashing directory names.
package attrdir

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"

	"github.com/dchest/siphash"

	"github.com/metall-go/metall/internal/merrors"
)

// Entry is one attribute directory record.
type Entry struct {
	Name        string // empty for anonymous entries
	Offset      int64
	Length      int64
	TypeID      string
	Description string
}

const defaultBuckets = 64

// Table is a siphash-keyed, separate-chaining hash table from name to
// *Entry, preserving insertion order for iteration.
type Table struct {
	seed0, seed1 uint64
	buckets      [][]*Entry
	order        []*Entry // insertion order; erased entries become nil and are compacted lazily
	live         int
}

// NewTable constructs an empty keyed table (used for the "named" and
// "unique" directories) with a fresh random siphash seed pair.
func NewTable() *Table {
	return &Table{
		seed0:   randUint64(),
		seed1:   randUint64(),
		buckets: make([][]*Entry, defaultBuckets),
	}
}

func randUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("attrdir: failed to seed siphash: " + err.Error())
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (t *Table) bucketOf(name string) int {
	h := siphash.Hash(t.seed0, t.seed1, []byte(name))
	return int(h % uint64(len(t.buckets)))
}

func (t *Table) lookup(name string) (*Entry, int) {
	b := t.bucketOf(name)
	for _, e := range t.buckets[b] {
		if e != nil && e.Name == name {
			return e, b
		}
	}
	return nil, -1
}

// Insert adds a new entry; returns merrors.Duplicate if name already
// exists.
func (t *Table) Insert(e Entry) error {
	if existing, _ := t.lookup(e.Name); existing != nil {
		return merrors.Duplicate
	}
	stored := &e
	b := t.bucketOf(e.Name)
	t.buckets[b] = append(t.buckets[b], stored)
	t.order = append(t.order, stored)
	t.live++
	t.maybeGrow()
	return nil
}

// Find returns the entry for name, or (Entry{}, false).
func (t *Table) Find(name string) (Entry, bool) {
	e, _ := t.lookup(name)
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Erase removes name's entry; returns merrors.NotFound if absent.
func (t *Table) Erase(name string) error {
	e, b := t.lookup(name)
	if e == nil {
		return merrors.NotFound
	}
	bucket := t.buckets[b]
	for i, cand := range bucket {
		if cand == e {
			bucket[i] = bucket[len(bucket)-1]
			t.buckets[b] = bucket[:len(bucket)-1]
			break
		}
	}
	for i, cand := range t.order {
		if cand == e {
			t.order[i] = nil
			break
		}
	}
	t.live--
	t.compactOrderIfSparse()
	return nil
}

// SetDescription updates the description field of an existing entry.
func (t *Table) SetDescription(name, desc string) error {
	e, _ := t.lookup(name)
	if e == nil {
		return merrors.NotFound
	}
	e.Description = desc
	return nil
}

// Len returns the number of live entries.
func (t *Table) Len() int { return t.live }

// Iterate returns all live entries, in insertion order.
func (t *Table) Iterate() []Entry {
	out := make([]Entry, 0, t.live)
	for _, e := range t.order {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out
}

func (t *Table) maybeGrow() {
	if t.live < len(t.buckets)*2 {
		return
	}
	newBuckets := make([][]*Entry, len(t.buckets)*2)
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			if e == nil {
				continue
			}
			h := siphash.Hash(t.seed0, t.seed1, []byte(e.Name))
			idx := int(h % uint64(len(newBuckets)))
			newBuckets[idx] = append(newBuckets[idx], e)
		}
	}
	t.buckets = newBuckets
}

func (t *Table) compactOrderIfSparse() {
	if len(t.order) < t.live*2+8 {
		return
	}
	compact := make([]*Entry, 0, t.live)
	for _, e := range t.order {
		if e != nil {
			compact = append(compact, e)
		}
	}
	t.order = compact
}

// AnonymousList is the anonymous directory: entries have no name key
// and are only ever iterated, never looked up.
type AnonymousList struct {
	entries []Entry
}

// NewAnonymousList constructs an empty anonymous directory.
func NewAnonymousList() *AnonymousList { return &AnonymousList{} }

// Insert appends a new anonymous entry and returns its index, used as
// a stable handle for Erase.
func (a *AnonymousList) Insert(e Entry) int {
	a.entries = append(a.entries, e)
	return len(a.entries) - 1
}

// Erase removes the entry at idx (by index, the anonymous directory's
// only handle), returning merrors.NotFound if already removed.
func (a *AnonymousList) Erase(idx int) error {
	if idx < 0 || idx >= len(a.entries) {
		return merrors.NotFound
	}
	a.entries = append(a.entries[:idx], a.entries[idx+1:]...)
	return nil
}

// Iterate returns every anonymous entry.
func (a *AnonymousList) Iterate() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of anonymous entries.
func (a *AnonymousList) Len() int { return len(a.entries) }

// entryToRecord / recordToEntry implement the text record shape
// shared by all three directories: <name> <offset> <length> <type_id>
// <desc>; anonymous records use "-" in place of a name.
func entryToRecord(e Entry) []string {
	name := e.Name
	if name == "" {
		name = "-"
	}
	desc := e.Description
	if desc == "" {
		desc = "-"
	}
	return []string{
		name,
		strconv.FormatInt(e.Offset, 10),
		strconv.FormatInt(e.Length, 10),
		e.TypeID,
		desc,
	}
}

func recordToEntry(rec []string) (Entry, error) {
	if len(rec) < 5 {
		return Entry{}, merrors.Inconsistent
	}
	name := rec[0]
	if name == "-" {
		name = ""
	}
	offset, err := strconv.ParseInt(rec[1], 10, 64)
	if err != nil {
		return Entry{}, merrors.Inconsistent
	}
	length, err := strconv.ParseInt(rec[2], 10, 64)
	if err != nil {
		return Entry{}, merrors.Inconsistent
	}
	desc := rec[4]
	if desc == "-" {
		desc = ""
	}
	return Entry{Name: name, Offset: offset, Length: length, TypeID: rec[3], Description: desc}, nil
}
