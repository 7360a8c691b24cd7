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

// Package config loads the optional runtime tunables for a heap: log
// level, the virtual-address reserve size, the max segment size, and
// the per-bin object cache budget. None of this is required for a
// datastore to open; a missing or absent config file falls back to
// the compiled-in defaults that mirror metall's
// manager_kernel_defs.hpp (2^43 reserve, 2^48 max segment, 2^28
// initial block).
package config

import (
	"os"

	"sigs.k8s.io/yaml"

	"github.com/metall-go/metall/internal/logger"
)

const (
	// DefaultVMReserveSize is the virtual address range reserved up
	// front for the segment (Linux default from metall: 1<<43).
	DefaultVMReserveSize = int64(1) << 43
	// DefaultMaxSegmentSize bounds total allocation across the
	// lifetime of a heap (metall default: 1<<48).
	DefaultMaxSegmentSize = int64(1) << 48
	// DefaultInitialBlockSize is the size of the first backing block
	// mapped into the segment (metall default: 1<<28).
	DefaultInitialBlockSize = int64(1) << 28
	// DefaultObjectCacheBudget is the per-bin byte budget for each
	// worker's object cache (see internal/objcache).
	DefaultObjectCacheBudget = int64(64) * 1024
)

// EnvConfigPath is the environment variable that, if set, names a
// config file to load in place of "<root>/metall.yaml".
const EnvConfigPath = "METALL_CONFIG"

// EnvLoggerLevel is the METALL_LOGGER_LEVEL-style knob from spec §6.
const EnvLoggerLevel = "METALL_LOGGER_LEVEL"

// Config holds the tunables loadable from metall.yaml.
type Config struct {
	LogLevel          string `json:"log_level,omitempty"`
	VMReserveSize     int64  `json:"vm_reserve_size,omitempty"`
	MaxSegmentSize    int64  `json:"max_segment_size,omitempty"`
	ObjectCacheBudget int64  `json:"object_cache_budget,omitempty"`
}

// Defaults returns the compiled-in configuration.
func Defaults() Config {
	return Config{
		LogLevel:          "INFO",
		VMReserveSize:     DefaultVMReserveSize,
		MaxSegmentSize:    DefaultMaxSegmentSize,
		ObjectCacheBudget: DefaultObjectCacheBudget,
	}
}

// Load reads "<root>/metall.yaml" (or the path named by
// METALL_CONFIG, if set), overlaying any fields it sets on top of
// Defaults(). A missing file is not an error.
func Load(root string) (Config, error) {
	cfg := Defaults()
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = root + "/metall.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvLoggerLevel); v != "" {
		cfg.LogLevel = v
	}
}

// Level parses the configured LogLevel, defaulting to Info on any
// unrecognized value.
func (c Config) Level() logger.Level {
	lvl, ok := logger.ParseLevel(c.LogLevel)
	if !ok {
		return logger.Info
	}
	return lvl
}
