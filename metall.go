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

// Package metall implements a persistent, memory-mapped heap: a
// program allocates objects into a file-backed region, and any later
// process can re-map the same region at a different virtual address
// and keep using those objects without serialization. It orchestrates
// the segment storage, chunk/bin directories, per-worker object
// caches, and attribute directories in internal/ into one Heap type,
// the way tenant/dcache.Cache orchestrates its own queue/worker/file
// layer into a single entry point.
package metall

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/metall-go/metall/internal/attrdir"
	"github.com/metall-go/metall/internal/bindir"
	"github.com/metall-go/metall/internal/chunkdir"
	"github.com/metall-go/metall/internal/config"
	"github.com/metall-go/metall/internal/logger"
	"github.com/metall-go/metall/internal/merrors"
	"github.com/metall-go/metall/internal/objcache"
	"github.com/metall-go/metall/internal/segment"
	"github.com/metall-go/metall/internal/sizeclass"
)

// onDiskVersion is written to <root>/version and checked on open;
// a store whose version is in the future is rejected outright as
// Inconsistent rather than tolerated.
const onDiskVersion = 1

const (
	versionFile    = "version"
	uuidFile       = "uuid"
	descFile       = "description"
	closedMarkFile = "properly_closed_mark"
	configFile     = "metall.yaml"
	segmentDir     = "segment"
	metadataDir    = "metadata"

	namedDirFile     = "named_object_directory"
	uniqueDirFile    = "unique_object_directory"
	anonymousDirFile = "anonymous_object_directory"
	chunkDirFile     = "chunk_directory"
	binDirFile       = "bin_directory"
)

// chunkSize is the fixed, process-wide chunk size (2 MiB; Go has no
// true compile-time constant folding of this magnitude so it is a
// package const instead of a literal template parameter).
const chunkSize = 2 << 20

// state is the kernel's lifecycle state.
type state int

const (
	closed state = iota
	openRW
	openRO
)

// Heap is one open persistent heap. The zero Heap is not usable;
// construct one with Create, Open, or OpenReadOnly.
type Heap struct {
	mu sync.Mutex

	st       state
	root     string
	cfg      config.Config
	log      logger.Logger
	id       uuid.UUID
	readOnly bool

	seg   *segment.Segment
	sizes *sizeclass.Table
	cdir  *chunkdir.Dir
	bdir  *bindir.Dir

	named  *attrdir.Table
	unique *attrdir.Table
	anon   *attrdir.AnonymousList

	cachesMu sync.Mutex
	caches   map[int]*objcache.Cache
}

// Logger returns the heap's current logger: the stderr logger built
// from the config at Create/Open, or whatever SetLogger last installed.
func (h *Heap) Logger() logger.Logger { return h.log }

// SetLogger replaces the heap's logger.
func (h *Heap) SetLogger(l logger.Logger) {
	if l == nil {
		l = logger.Discard
	}
	h.log = l
}

func segDir(root string) string  { return filepath.Join(root, segmentDir) }
func metaDir(root string) string { return filepath.Join(root, metadataDir) }

func (h *Heap) path(name string) string { return filepath.Join(h.root, name) }

// Create makes a brand-new datastore at path with the given maximum
// segment size (0 selects config.DefaultMaxSegmentSize), per
// closed -> open-rw, failing with AlreadyExists if path already holds
// a datastore.
func Create(path string, maxSize int64) (*Heap, error) {
	if path == "" {
		return nil, merrors.InvalidArgument
	}
	if _, err := os.Stat(path); err == nil {
		return nil, merrors.AlreadyExists
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %v", merrors.IoError, err)
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", merrors.IoError, path, err)
	}
	if err := os.MkdirAll(metaDir(path), 0750); err != nil {
		return nil, fmt.Errorf("%w: mkdir metadata: %v", merrors.IoError, err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load config: %v", merrors.IoError, err)
	}
	if maxSize > 0 {
		cfg.MaxSegmentSize = maxSize
	}

	reserve := cfg.MaxSegmentSize
	if cfg.VMReserveSize > 0 && cfg.VMReserveSize < reserve {
		reserve = cfg.VMReserveSize
	}
	seg, err := segment.Create(segDir(path), config.DefaultInitialBlockSize, reserve)
	if err != nil {
		os.RemoveAll(path)
		return nil, err
	}

	h := &Heap{
		st:     openRW,
		root:   path,
		cfg:    cfg,
		log:    logger.New(cfg.Level(), nil),
		id:     uuid.New(),
		seg:    seg,
		sizes:  sizeclass.Build(chunkSize, uint64(cfg.MaxSegmentSize)),
		cdir:   chunkdir.New(int(seg.Size() / chunkSize)),
		bdir:   bindir.New(0),
		named:  attrdir.NewTable(),
		unique: attrdir.NewTable(),
		anon:   attrdir.NewAnonymousList(),
		caches: make(map[int]*objcache.Cache),
	}
	h.bdir = bindir.New(h.sizes.NumSmallBins())

	if err := os.WriteFile(h.path(versionFile), []byte(fmt.Sprintf("%d\n", onDiskVersion)), 0644); err != nil {
		h.abortCreate()
		return nil, fmt.Errorf("%w: write version: %v", merrors.IoError, err)
	}
	if err := os.WriteFile(h.path(uuidFile), []byte(h.id.String()+"\n"), 0644); err != nil {
		h.abortCreate()
		return nil, fmt.Errorf("%w: write uuid: %v", merrors.IoError, err)
	}
	if err := os.WriteFile(h.path(descFile), nil, 0644); err != nil {
		h.abortCreate()
		return nil, fmt.Errorf("%w: write description: %v", merrors.IoError, err)
	}

	h.log.Log(logger.Info, "created datastore %s (uuid %s)", path, h.id)
	return h, nil
}

func (h *Heap) abortCreate() {
	if h.seg != nil {
		h.seg.Close()
	}
	os.RemoveAll(h.root)
}

// Open re-opens an existing, properly-closed datastore for read/write
// access (closed -> open-rw). It fails with Inconsistent if the
// properly-closed mark is absent, the version is unreadable or from
// the future, or the metadata fails to parse.
func Open(path string) (*Heap, error) {
	return open(path, false)
}

// OpenReadOnly re-opens an existing, properly-closed datastore for
// read-only access (closed -> open-ro). Allocate/Deallocate/Construct/
// Destroy all fail with InvalidArgument on a read-only heap.
func OpenReadOnly(path string) (*Heap, error) {
	return open(path, true)
}

func open(path string, readOnly bool) (*Heap, error) {
	ok, err := Consistent(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, merrors.Inconsistent
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load config: %v", merrors.IoError, err)
	}

	id, err := readUUID(path)
	if err != nil {
		return nil, err
	}

	numBlocks := countBlockFiles(segDir(path))
	if numBlocks == 0 {
		return nil, merrors.Inconsistent
	}
	reserve := cfg.MaxSegmentSize
	if cfg.VMReserveSize > 0 && cfg.VMReserveSize < reserve {
		reserve = cfg.VMReserveSize
	}
	seg, err := segment.Open(segDir(path), config.DefaultInitialBlockSize, reserve, numBlocks, readOnly)
	if err != nil {
		return nil, err
	}

	h := &Heap{
		st:       stateFor(readOnly),
		root:     path,
		cfg:      cfg,
		log:      logger.New(cfg.Level(), nil),
		id:       id,
		readOnly: readOnly,
		seg:      seg,
		sizes:    sizeclass.Build(chunkSize, uint64(cfg.MaxSegmentSize)),
		caches:   make(map[int]*objcache.Cache),
	}

	if err := h.loadMetadata(); err != nil {
		seg.Close()
		return nil, err
	}

	// The properly-closed mark is removed on open and only restored by
	// a clean Close.
	if !readOnly {
		os.Remove(h.path(closedMarkFile))
	}

	h.log.Log(logger.Info, "opened datastore %s (uuid %s, read-only=%v)", path, h.id, readOnly)
	return h, nil
}

func stateFor(readOnly bool) state {
	if readOnly {
		return openRO
	}
	return openRW
}

func (h *Heap) loadMetadata() error {
	cdir, err := chunkdir.Load(filepath.Join(metaDir(h.root), chunkDirFile), int(h.seg.Size()/chunkSize))
	if err != nil {
		return fmt.Errorf("%w: load chunk directory: %v", merrors.Inconsistent, err)
	}
	h.cdir = cdir

	bdir, err := bindir.Load(filepath.Join(metaDir(h.root), binDirFile), h.sizes.NumSmallBins())
	if err != nil {
		return fmt.Errorf("%w: load bin directory: %v", merrors.Inconsistent, err)
	}
	h.bdir = bdir

	named := attrdir.NewTable()
	if err := named.Load(filepath.Join(metaDir(h.root), namedDirFile)); err != nil {
		return fmt.Errorf("%w: load named directory: %v", merrors.Inconsistent, err)
	}
	h.named = named

	unique := attrdir.NewTable()
	if err := unique.Load(filepath.Join(metaDir(h.root), uniqueDirFile)); err != nil {
		return fmt.Errorf("%w: load unique directory: %v", merrors.Inconsistent, err)
	}
	h.unique = unique

	anon := attrdir.NewAnonymousList()
	if err := anon.Load(filepath.Join(metaDir(h.root), anonymousDirFile)); err != nil {
		return fmt.Errorf("%w: load anonymous directory: %v", merrors.Inconsistent, err)
	}
	h.anon = anon

	return nil
}

func countBlockFiles(dir string) int {
	n := 0
	for {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("block-%04d", n))); err != nil {
			break
		}
		n++
	}
	return n
}

func readUUID(root string) (uuid.UUID, error) {
	data, err := os.ReadFile(filepath.Join(root, uuidFile))
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: read uuid: %v", merrors.Inconsistent, err)
	}
	id, err := uuid.Parse(trimLine(string(data)))
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: parse uuid: %v", merrors.Inconsistent, err)
	}
	return id, nil
}

func trimLine(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Consistent reports whether path holds a datastore last closed
// cleanly, with a readable, non-future version file.
func Consistent(path string) (bool, error) {
	if _, err := os.Stat(filepath.Join(path, closedMarkFile)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", merrors.IoError, err)
	}
	data, err := os.ReadFile(filepath.Join(path, versionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", merrors.IoError, err)
	}
	var v int
	if _, err := fmt.Sscanf(trimLine(string(data)), "%d", &v); err != nil {
		return false, nil
	}
	if v > onDiskVersion {
		return false, nil
	}
	return true, nil
}

// Sync flushes the segment (msync + fsync of all backing blocks) and
// writes fresh metadata files, without marking the store properly
// closed.
func (h *Heap) Sync() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sync()
}

func (h *Heap) sync() error {
	if h.st == closed {
		return merrors.InvalidArgument
	}
	if h.readOnly {
		return nil
	}
	if err := h.seg.Sync(); err != nil {
		return err
	}
	return h.flushMetadata()
}

func (h *Heap) flushMetadata() error {
	if err := h.cdir.Save(filepath.Join(metaDir(h.root), chunkDirFile)); err != nil {
		return err
	}
	if err := h.bdir.Save(filepath.Join(metaDir(h.root), binDirFile)); err != nil {
		return err
	}
	if err := h.named.Save(filepath.Join(metaDir(h.root), namedDirFile)); err != nil {
		return err
	}
	if err := h.unique.Save(filepath.Join(metaDir(h.root), uniqueDirFile)); err != nil {
		return err
	}
	if err := h.anon.Save(filepath.Join(metaDir(h.root), anonymousDirFile)); err != nil {
		return err
	}
	return nil
}

// Close flushes metadata, drains every worker cache, writes the
// properly-closed mark, and unmaps the segment (open-rw/open-ro ->
// closed). Partial failure during flush skips writing the mark, so
// the next Open observes Inconsistent.
func (h *Heap) Close() error {
	h.mu.Lock()
	if h.st == closed {
		h.mu.Unlock()
		return merrors.InvalidArgument
	}
	readOnly := h.readOnly
	h.mu.Unlock()

	// Draining a cache flushes through kernelGlobal, which takes h.mu
	// itself, so this must happen with h.mu released.
	if !readOnly {
		h.cachesMu.Lock()
		for _, c := range h.caches {
			c.Clear()
		}
		h.cachesMu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st == closed {
		return merrors.InvalidArgument
	}

	if !h.readOnly {
		if err := h.sync(); err != nil {
			h.seg.Close()
			h.st = closed
			return err
		}
		if err := os.WriteFile(h.path(closedMarkFile), nil, 0644); err != nil {
			h.seg.Close()
			h.st = closed
			return fmt.Errorf("%w: write closed mark: %v", merrors.IoError, err)
		}
	}

	err := h.seg.Close()
	h.st = closed
	return err
}

// Destroy removes every backing file for the datastore. The heap must
// be closed first.
func (h *Heap) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st != closed {
		return merrors.InvalidArgument
	}
	return os.RemoveAll(h.root)
}

// Snapshot flushes the heap, then copies the entire datastore
// directory tree to dst (a reflink clone of the segment blocks where
// supported, sparse zero-run copy otherwise), writing the
// properly-closed mark inside dst so it is independently openable.
func (h *Heap) Snapshot(dst string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st == closed {
		return merrors.InvalidArgument
	}
	if err := h.sync(); err != nil {
		return fmt.Errorf("%w: snapshot sync: %v", merrors.Inconsistent, err)
	}
	if _, err := os.Stat(dst); err == nil {
		return merrors.AlreadyExists
	}
	if err := copyTree(h.root, dst); err != nil {
		return err
	}
	os.Remove(filepath.Join(dst, closedMarkFile))
	if err := os.WriteFile(filepath.Join(dst, closedMarkFile), nil, 0644); err != nil {
		return fmt.Errorf("%w: write closed mark: %v", merrors.IoError, err)
	}
	return nil
}
