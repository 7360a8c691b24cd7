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

package logger

import "testing"

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"verbose", Verbose, true},
		{"DEBUG", Debug, true},
		{" Info ", Info, true},
		{"warn", Warning, true},
		{"WARNING", Warning, true},
		{"error", Error, true},
		{"CRITICAL", Critical, true},
		{"nonsense", Info, false},
	}
	for _, c := range cases {
		got, ok := ParseLevel(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ParseLevel(%q) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestLevelString(t *testing.T) {
	if Warning.String() != "WARNING" {
		t.Fatalf("Warning.String() = %q", Warning.String())
	}
	if Level(99).String() != "UNKNOWN" {
		t.Fatalf("unknown level should stringify to UNKNOWN")
	}
}

func TestStdRespectsMinLevel(t *testing.T) {
	var critFired bool
	l := New(Warning, func() { critFired = true })
	l.Log(Info, "should be suppressed")
	l.Log(Critical, "boom %d", 1)
	if !critFired {
		t.Fatalf("expected onCritical callback to fire for a Critical message")
	}
}

func TestDiscardDropsEverything(t *testing.T) {
	Discard.Log(Critical, "never panics, never writes")
}
