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

package metacodec

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestWriteReadRecordsRoundTrip(t *testing.T) {
	records := [][]string{
		{"alpha", "1", "2"},
		{"beta", "3", "4"},
	}
	path := filepath.Join(t.TempDir(), "small")
	if err := WriteFile(path, records); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(path + ".zst"); !os.IsNotExist(err) {
		t.Fatalf("small file should not produce a .zst sidecar")
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i := range records {
		for j := range records[i] {
			if got[i][j] != records[i][j] {
				t.Fatalf("record %d field %d = %q, want %q", i, j, got[i][j], records[i][j])
			}
		}
	}
}

func TestWriteFileCompressesLargeFiles(t *testing.T) {
	var records [][]string
	for i := 0; i < 100000; i++ {
		records = append(records, []string{"name" + strconv.Itoa(i), strconv.Itoa(i)})
	}
	path := filepath.Join(t.TempDir(), "large")
	if err := WriteFile(path, records); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(path + ".zst"); err != nil {
		t.Fatalf("expected a .zst sidecar for a large file: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected the plain file to be removed once compressed")
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records after decompression, want %d", len(got), len(records))
	}
}

func TestWriteFileReplacesStalePlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("stale plain\n"), 0644); err != nil {
		t.Fatalf("seed plain file: %v", err)
	}
	if err := WriteFile(path, [][]string{{"fresh", "1"}}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 1 || got[0][0] != "fresh" {
		t.Fatalf("got %+v, want a single fresh record", got)
	}
}
