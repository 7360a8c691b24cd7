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

//go:build linux || darwin

package ioplatform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReserveAndCommitBlock(t *testing.T) {
	const size = 1 << 20
	resv, err := ReserveRange(4 * size)
	if err != nil {
		t.Fatalf("ReserveRange: %v", err)
	}
	defer resv.Unmap()

	path := filepath.Join(t.TempDir(), "block-0000")
	f, err := CreateBackingFile(path, size)
	if err != nil {
		t.Fatalf("CreateBackingFile: %v", err)
	}
	defer f.Close()

	if err := resv.CommitBlock(0, size, f, false); err != nil {
		t.Fatalf("CommitBlock: %v", err)
	}

	mem := resv.Bytes()[:size]
	mem[0] = 0x42
	if err := Msync(mem); err != nil {
		t.Fatalf("Msync: %v", err)
	}

	// re-reading the file directly must observe the MAP_SHARED write
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if data[0] != 0x42 {
		t.Fatalf("backing file did not observe mapped write, got %#x", data[0])
	}
}
