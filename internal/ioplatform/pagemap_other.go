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

//go:build !linux

package ioplatform

import "github.com/metall-go/metall/internal/merrors"

// AddrRange is a [Start, End) byte range of a process's address
// space to inspect for soft-dirty pages.
type AddrRange struct {
	Start, End uintptr
}

// ReadSoftDirty is unsupported outside Linux.
func ReadSoftDirty(ranges []AddrRange) ([]bool, error) {
	return nil, merrors.UnsupportedPlatform
}

// ResetSoftDirty is unsupported outside Linux.
func ResetSoftDirty() error {
	return merrors.UnsupportedPlatform
}
