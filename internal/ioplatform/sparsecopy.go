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

package ioplatform

import (
	"bytes"
	"io"
	"os"
)

const sparseCopyChunk = 1 << 20

// SparseCopy copies src to dst, skipping runs of the source that are
// entirely zero so the destination stays sparse on filesystems that
// support it (ext4, xfs, apfs, ntfs with sparse attribute). This
// avoids depending on SEEK_HOLE/SEEK_DATA (whose semantics and even
// presence vary across platforms and filesystems) and instead detects
// zero runs directly, which is sufficient for metall's holes: a freed
// large-object run is zeroed by PunchHole or was never written.
func SparseCopy(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return ioErrorf("sparse copy: open %s: %w", srcPath, err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return ioErrorf("sparse copy: stat %s: %w", srcPath, err)
	}
	dst, err := os.OpenFile(dstPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return ioErrorf("sparse copy: create %s: %w", dstPath, err)
	}
	defer dst.Close()

	buf := make([]byte, sparseCopyChunk)
	zero := make([]byte, sparseCopyChunk)
	var pos int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if bytes.Equal(chunk, zero[:n]) {
				pos += int64(n)
			} else {
				if _, err := dst.WriteAt(chunk, pos); err != nil {
					return ioErrorf("sparse copy: write %s: %w", dstPath, err)
				}
				pos += int64(n)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return ioErrorf("sparse copy: read %s: %w", srcPath, rerr)
		}
	}
	if err := dst.Truncate(pos); err != nil {
		return ioErrorf("sparse copy: truncate %s: %w", dstPath, err)
	}
	return nil
}
