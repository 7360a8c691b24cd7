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

// Package metacodec implements the whitespace-separated, newline
// terminated text format used for the five metadata files
// (named/unique/anonymous object directories, chunk directory, bin
// directory), plus an optional zstd-compressed sidecar for large
// directories. The compressor wrapper (encoder/decoder pair, global
// reusable decoder) is modeled directly on compr/compression.go's
// zstdCompressor/zstdDecompressor.
package metacodec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/metall-go/metall/internal/merrors"
)

// CompressThreshold is the uncompressed size above which WriteFile
// transparently stores a ".zst" sidecar instead of a plain text file.
const CompressThreshold = 1 << 20 // 1 MiB

var (
	sharedEncoder *zstd.Encoder
	sharedDecoder *zstd.Decoder
)

func init() {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic(err)
	}
	sharedEncoder = enc
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	sharedDecoder = dec
}

// WriteRecords writes records as whitespace-separated,
// newline-terminated lines. Names containing whitespace must already
// be length-prefixed by the caller; metacodec itself performs no
// escaping.
func WriteRecords(w io.Writer, records [][]string) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		if _, err := bw.WriteString(strings.Join(rec, " ")); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadRecords parses whitespace-separated, newline-terminated lines.
// Blank lines are skipped.
func ReadRecords(r io.Reader) ([][]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out [][]string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out = append(out, strings.Fields(line))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteFile serializes records to path, transparently using a
// zstd-compressed "<path>.zst" sidecar (removing any stale plain-text
// file) once the encoded size exceeds CompressThreshold, and a plain
// "<path>" file otherwise (removing any stale compressed sidecar).
// The write is a single os.WriteFile call to whichever destination is
// chosen and is not atomic. A crash mid-write can leave a short file:
// a truncated ".zst" sidecar fails decompression in ReadFile, but a
// truncated plain-text file is not detected and reads back as fewer
// records.
func WriteFile(path string, records [][]string) error {
	var buf strings.Builder
	if err := WriteRecords(&buf, records); err != nil {
		return fmt.Errorf("%w: %v", merrors.IoError, err)
	}
	plain := []byte(buf.String())

	if len(plain) <= CompressThreshold {
		if err := os.WriteFile(path, plain, 0644); err != nil {
			return fmt.Errorf("%w: %v", merrors.IoError, err)
		}
		os.Remove(path + ".zst")
		return nil
	}

	compressed := sharedEncoder.EncodeAll(plain, nil)
	if err := os.WriteFile(path+".zst", compressed, 0644); err != nil {
		return fmt.Errorf("%w: %v", merrors.IoError, err)
	}
	os.Remove(path)
	return nil
}

// ReadFile loads records from path, preferring a "<path>.zst" sidecar
// if present.
func ReadFile(path string) ([][]string, error) {
	if data, err := os.ReadFile(path + ".zst"); err == nil {
		plain, derr := sharedDecoder.DecodeAll(data, nil)
		if derr != nil {
			return nil, fmt.Errorf("%w: decompress %s.zst: %v", merrors.IoError, path, derr)
		}
		return ReadRecords(strings.NewReader(string(plain)))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %v", merrors.IoError, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err // may be os.ErrNotExist; caller checks
	}
	defer f.Close()
	return ReadRecords(f)
}
