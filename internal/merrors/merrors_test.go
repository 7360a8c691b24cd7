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

package merrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelsWrapAndUnwrap(t *testing.T) {
	kinds := []error{
		OutOfMemory, InvalidArgument, Duplicate, NotFound,
		Inconsistent, AlreadyExists, IoError, UnsupportedPlatform,
	}
	for _, k := range kinds {
		wrapped := fmt.Errorf("doing the thing: %w", k)
		if !errors.Is(wrapped, k) {
			t.Errorf("errors.Is(%v, %v) = false, want true", wrapped, k)
		}
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	kinds := []error{
		OutOfMemory, InvalidArgument, Duplicate, NotFound,
		Inconsistent, AlreadyExists, IoError, UnsupportedPlatform,
	}
	for i := range kinds {
		for j := range kinds {
			if i == j {
				continue
			}
			if errors.Is(kinds[i], kinds[j]) {
				t.Errorf("%v should not match %v", kinds[i], kinds[j])
			}
		}
	}
}
