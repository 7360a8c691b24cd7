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

package objcache

import "testing"

// fakeGlobal is an in-memory stand-in for the kernel, handing out
// incrementing offsets and recording flushes.
type fakeGlobal struct {
	next     int64
	flushed  map[int][]int64
	refills  int
	maxAlloc int64
}

func newFakeGlobal() *fakeGlobal {
	return &fakeGlobal{flushed: make(map[int][]int64), maxAlloc: 1 << 30}
}

func (g *fakeGlobal) RefillBin(bin, want int) ([]int64, error) {
	g.refills++
	var out []int64
	for i := 0; i < want; i++ {
		if g.next >= g.maxAlloc {
			break
		}
		out = append(out, g.next)
		g.next++
	}
	if len(out) == 0 {
		return nil, errOOM
	}
	return out, nil
}

func (g *fakeGlobal) FlushBin(bin int, offsets []int64) error {
	g.flushed[bin] = append(g.flushed[bin], offsets...)
	return nil
}

var errOOM = &oomError{}

type oomError struct{}

func (*oomError) Error() string { return "fake: out of memory" }

func TestPopRefillsOnMiss(t *testing.T) {
	g := newFakeGlobal()
	c := New(g, []int{4})
	off, err := c.Pop(0)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if off != 0 {
		t.Fatalf("first popped offset = %d, want 0", off)
	}
	if g.refills != 1 {
		t.Fatalf("expected exactly one refill for the whole batch, got %d", g.refills)
	}
	// the rest of the batch should be served from the cache, not more refills
	for i := 0; i < 3; i++ {
		if _, err := c.Pop(0); err != nil {
			t.Fatalf("Pop: %v", err)
		}
	}
	if g.refills != 1 {
		t.Fatalf("expected refill count to stay at 1 after draining the batch, got %d", g.refills)
	}
}

func TestPushFlushesHalfOnOverflow(t *testing.T) {
	g := newFakeGlobal()
	c := New(g, []int{2})
	if err := c.Push(0, 100); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := c.Push(0, 101); err != nil {
		t.Fatalf("Push: %v", err)
	}
	// cache is now at capacity (2); one more push must flush half first
	if err := c.Push(0, 102); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(g.flushed[0]) == 0 {
		t.Fatalf("expected at least one offset flushed on overflow")
	}
}

func TestClearDrainsEveryBin(t *testing.T) {
	g := newFakeGlobal()
	c := New(g, []int{4, 4})
	c.Push(0, 1)
	c.Push(1, 2)
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(g.flushed[0]) != 1 || len(g.flushed[1]) != 1 {
		t.Fatalf("Clear did not flush both bins: %+v", g.flushed)
	}
}
