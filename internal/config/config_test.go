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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/metall-go/metall/internal/logger"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Defaults() {
		t.Fatalf("Load on a missing config = %+v, want defaults %+v", cfg, Defaults())
	}
}

func TestLoadOverlaysYAMLOnDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := "log_level: DEBUG\nmax_segment_size: 4096\n"
	if err := os.WriteFile(filepath.Join(dir, "metall.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatalf("seed metall.yaml: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "DEBUG" {
		t.Fatalf("LogLevel = %q, want DEBUG", cfg.LogLevel)
	}
	if cfg.MaxSegmentSize != 4096 {
		t.Fatalf("MaxSegmentSize = %d, want 4096", cfg.MaxSegmentSize)
	}
	if cfg.VMReserveSize != DefaultVMReserveSize {
		t.Fatalf("VMReserveSize = %d, want default %d (unset fields keep defaults)", cfg.VMReserveSize, DefaultVMReserveSize)
	}
}

func TestEnvLoggerLevelOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvLoggerLevel, "ERROR")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "ERROR" {
		t.Fatalf("LogLevel = %q, want ERROR from env override", cfg.LogLevel)
	}
	if cfg.Level() != logger.Error {
		t.Fatalf("Level() = %v, want Error", cfg.Level())
	}
}

func TestLevelFallsBackToInfoOnGarbage(t *testing.T) {
	cfg := Config{LogLevel: "not-a-level"}
	if cfg.Level() != logger.Info {
		t.Fatalf("Level() = %v, want Info for an unrecognized LogLevel", cfg.Level())
	}
}
