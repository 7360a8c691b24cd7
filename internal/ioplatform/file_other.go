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

import (
	"os"

	"github.com/metall-go/metall/internal/merrors"
)

func extendFile(f *os.File, size int64) error {
	return f.Truncate(size)
}

// PunchHole is unsupported outside Linux and always returns
// UnsupportedPlatform; Segment.FreeRange ignores that error, so
// already-allocated blocks are not released early.
func PunchHole(f *os.File, offset, size int64) error {
	return merrors.UnsupportedPlatform
}

// CloneFile is unsupported outside Linux; the caller (copyTree in the
// metall package) falls back to SparseCopy.
func CloneFile(src, dst string) error {
	return merrors.UnsupportedPlatform
}
