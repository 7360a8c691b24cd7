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

// Command datastore_ls dumps the named, unique, and anonymous
// attribute directories of a metall datastore without mapping its
// segment.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/metall-go/metall"
	"github.com/metall-go/metall/internal/attrdir"
)

var hsizes = []byte{'K', 'M', 'G', 'T', 'P', 'E'}

func human(size int64) string {
	dec := int64(0)
	trail := -1
	for size >= 1024 {
		trail++
		dec = ((size%1024)*1000 + 512) / 1024
		size /= 1024
	}
	if trail < 0 {
		return fmt.Sprintf("%d", size)
	}
	return fmt.Sprintf("%d.%03d %ciB", size, dec, hsizes[trail])
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: datastore_ls <path>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	root := flag.Arg(0)

	if ok, err := metall.Consistent(root); err != nil {
		exitf("checking %s: %s\n", root, err)
	} else if !ok {
		exitf("%s: inconsistent datastore (missing properly_closed_mark or bad version)\n", root)
	}

	acc, err := attrdir.OpenAccessor(filepath.Join(root, "metadata"))
	if err != nil {
		exitf("reading %s: %s\n", root, err)
	}

	dump(os.Stdout, "named", acc.Named)
	dump(os.Stdout, "unique", acc.Unique)
	dump(os.Stdout, "anonymous", acc.Anonymous)
}

func dump(w *os.File, section string, entries []attrdir.Entry) {
	fmt.Fprintf(w, "%s:\n", section)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "name\tlength\toffset\ttype_id\tdescription")
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "-"
		}
		desc := e.Description
		if desc == "" {
			desc = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", name, human(e.Length), e.Offset, e.TypeID, desc)
	}
	tw.Flush()
}
