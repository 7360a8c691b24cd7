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

// Command mpi_datastore_ls dumps the rank-local subdirectory of an
// MPI-partitioned metall datastore: <root_prefix>/subdir-<rank>.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/metall-go/metall"
	"github.com/metall-go/metall/internal/attrdir"
)

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: mpi_datastore_ls <root_prefix> <rank>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	prefix := flag.Arg(0)
	rank, err := strconv.Atoi(flag.Arg(1))
	if err != nil {
		exitf("bad rank %q: %s\n", flag.Arg(1), err)
	}

	root := filepath.Join(prefix, fmt.Sprintf("subdir-%d", rank))
	if ok, err := metall.Consistent(root); err != nil {
		exitf("checking %s: %s\n", root, err)
	} else if !ok {
		exitf("%s: inconsistent datastore (missing properly_closed_mark or bad version)\n", root)
	}

	acc, err := attrdir.OpenAccessor(filepath.Join(root, "metadata"))
	if err != nil {
		exitf("reading %s: %s\n", root, err)
	}

	for _, section := range []struct {
		name    string
		entries []attrdir.Entry
	}{
		{"named", acc.Named},
		{"unique", acc.Unique},
		{"anonymous", acc.Anonymous},
	} {
		fmt.Fprintf(os.Stdout, "rank %d %s:\n", rank, section.name)
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "name\tlength\toffset\ttype_id\tdescription")
		for _, e := range section.entries {
			name := e.Name
			if name == "" {
				name = "-"
			}
			desc := e.Description
			if desc == "" {
				desc = "-"
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", name, e.Length, e.Offset, e.TypeID, desc)
		}
		tw.Flush()
	}
}
