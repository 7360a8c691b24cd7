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

// Package merrors defines the sentinel error kinds shared across the
// heap kernel. Call sites wrap these with fmt.Errorf("...: %w", Kind)
// and callers compare with errors.Is, the same pattern used for
// db.ErrBadPattern, db.ErrDuplicateObject, and blockfmt.ErrETagChanged.
package merrors

import "errors"

var (
	// OutOfMemory is returned when the segment cannot be grown to
	// satisfy an allocation request.
	OutOfMemory = errors.New("metall: out of memory")
	// InvalidArgument is returned for zero-size allocations, malformed
	// paths, or bad alignment requests.
	InvalidArgument = errors.New("metall: invalid argument")
	// Duplicate is returned when a name already exists in the named
	// or unique attribute directory.
	Duplicate = errors.New("metall: duplicate name")
	// NotFound is returned when a name is absent on find/destroy/erase.
	NotFound = errors.New("metall: not found")
	// Inconsistent is returned when a datastore is missing its
	// properly-closed mark or has a mismatched version/uuid.
	Inconsistent = errors.New("metall: inconsistent datastore")
	// AlreadyExists is returned by Create when the target path already
	// holds a datastore.
	AlreadyExists = errors.New("metall: datastore already exists")
	// IoError wraps an underlying filesystem operation failure.
	IoError = errors.New("metall: i/o error")
	// UnsupportedPlatform is returned when a required kernel feature
	// (pagemap, hole-punch, reflink clone) is unavailable on the host.
	UnsupportedPlatform = errors.New("metall: unsupported on this platform")
)
