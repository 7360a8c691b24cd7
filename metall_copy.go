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

package metall

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/metall-go/metall/internal/ioplatform"
	"github.com/metall-go/metall/internal/merrors"
)

// copyTree copies src to dst, preferring a reflink clone for segment
// block files (falling back to a sparse, zero-run-skipping copy) and
// a plain copy for every other file, mirroring how Segment.Open /
// Segment.Create treat "segment/block-NNNN" specially and everything
// else as ordinary metadata.
func copyTree(src, dst string) error {
	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0750)
		}
		if strings.HasPrefix(filepath.Base(path), "block-") && filepath.Base(filepath.Dir(path)) == segmentDir {
			if err := ioplatform.CloneFile(path, target); err == nil {
				return nil
			}
			return ioplatform.SparseCopy(path, target)
		}
		return copyPlainFile(path, target)
	})
	if err != nil {
		return fmt.Errorf("%w: snapshot copy: %v", merrors.IoError, err)
	}
	return nil
}

func copyPlainFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
