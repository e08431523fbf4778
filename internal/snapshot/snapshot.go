// Package snapshot persists a vector index and its chunk metadata as one
// atomically published unit with a monotonically increasing version marker.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/vector"
	"go.uber.org/zap"
)

// File names inside the snapshot directory.
const (
	IndexFile   = "rag.index"
	MetaFile    = "rag_meta.json"
	VersionFile = "rag_index_version.txt"
)

var (
	// ErrNotFound is returned by Load when the index or metadata file is absent.
	ErrNotFound = errors.New("snapshot not found")
	// ErrCorrupt is returned by Load when a snapshot file cannot be decoded or
	// the index and metadata disagree.
	ErrCorrupt = errors.New("snapshot corrupt")
)

// Snapshot is a loaded index with its positional metadata.
type Snapshot struct {
	Index   vector.Index
	Infos   []models.ChunkInfo
	Version float64
}

type metadata struct {
	ChunkCount *int               `json:"chunk_count"`
	ChunkInfos []models.ChunkInfo `json:"chunk_infos"`
}

// Store reads and writes snapshots in one directory. It is not safe for
// concurrent Save calls; the index manager serializes them.
type Store struct {
	dir        string
	backend    vector.Backend
	dimensions int
	nprobe     int
	logger     *zap.Logger
	now        func() time.Time

	lastWritten int64 // microseconds
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the wall clock used for versions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store for dir. Indices are written and read with backend;
// loaded indices must have the given dimension and get nprobe applied.
func New(dir string, backend vector.Backend, dimensions, nprobe int, opts ...Option) *Store {
	s := &Store{
		dir:        dir,
		backend:    backend,
		dimensions: dimensions,
		nprobe:     nprobe,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

// VersionPath returns the path of the version marker file.
func (s *Store) VersionPath() string { return filepath.Join(s.dir, VersionFile) }

// Save writes idx and infos to temporary files, renames both into place and
// then publishes a new version, which it returns.
func (s *Store) Save(idx vector.Index, infos []models.ChunkInfo) (float64, error) {
	if idx.Size() != len(infos) {
		return 0, fmt.Errorf("index has %d vectors but %d chunk infos", idx.Size(), len(infos))
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return 0, fmt.Errorf("create snapshot dir: %w", err)
	}

	indexTmp, err := tempPath(s.dir, IndexFile)
	if err != nil {
		return 0, err
	}
	defer os.Remove(indexTmp)
	if err := s.backend.WriteFile(idx, indexTmp); err != nil {
		return 0, fmt.Errorf("write index: %w", err)
	}
	if err := syncFile(indexTmp); err != nil {
		return 0, err
	}

	count := len(infos)
	if infos == nil {
		infos = []models.ChunkInfo{}
	}
	meta, err := json.Marshal(metadata{ChunkCount: &count, ChunkInfos: infos})
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}
	metaTmp, err := writeTemp(s.dir, MetaFile, meta)
	if err != nil {
		return 0, err
	}
	defer os.Remove(metaTmp)

	if err := os.Rename(indexTmp, filepath.Join(s.dir, IndexFile)); err != nil {
		return 0, fmt.Errorf("publish index: %w", err)
	}
	if err := os.Rename(metaTmp, filepath.Join(s.dir, MetaFile)); err != nil {
		return 0, fmt.Errorf("publish metadata: %w", err)
	}

	micros := s.nextVersion()
	version := float64(micros) / 1e6
	verTmp, err := writeTemp(s.dir, VersionFile, []byte(strconv.FormatFloat(version, 'f', 6, 64)))
	if err != nil {
		return 0, err
	}
	defer os.Remove(verTmp)
	if err := os.Rename(verTmp, s.VersionPath()); err != nil {
		return 0, fmt.Errorf("publish version: %w", err)
	}
	syncDir(s.dir)
	s.lastWritten = micros

	s.logger.Debug("snapshot saved",
		zap.String("dir", s.dir),
		zap.Int("chunks", count),
		zap.String("kind", string(idx.Kind())),
		zap.Float64("version", version))
	return version, nil
}

// nextVersion returns the current time in microseconds, bumped past both the
// last version written by this Store and the version on disk.
func (s *Store) nextVersion() int64 {
	micros := s.now().UnixMicro()
	last := s.lastWritten
	if disk := toMicros(s.DiskVersion()); disk > last {
		last = disk
	}
	if micros <= last {
		micros = last + 1
	}
	return micros
}

// Load reads the published index and metadata. It fails closed: a missing
// file yields ErrNotFound and any inconsistency yields ErrCorrupt.
//
// The returned version is read before either file, so a snapshot published
// during Load is never mistaken for the one that was read; at worst the
// caller reloads once more.
func (s *Store) Load() (*Snapshot, error) {
	version := s.DiskVersion()
	indexPath := filepath.Join(s.dir, IndexFile)
	metaPath := filepath.Join(s.dir, MetaFile)
	for _, p := range []string{indexPath, metaPath} {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(p))
			}
			return nil, fmt.Errorf("%w: stat %s: %v", ErrCorrupt, filepath.Base(p), err)
		}
	}

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrCorrupt, err)
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %v", ErrCorrupt, err)
	}
	if meta.ChunkCount == nil {
		return nil, fmt.Errorf("%w: metadata missing chunk_count", ErrCorrupt)
	}
	if *meta.ChunkCount != len(meta.ChunkInfos) {
		return nil, fmt.Errorf("%w: chunk_count %d but %d chunk infos", ErrCorrupt, *meta.ChunkCount, len(meta.ChunkInfos))
	}

	idx, err := s.backend.ReadFile(indexPath, s.dimensions, s.nprobe)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if idx.Size() != len(meta.ChunkInfos) {
		_ = idx.Close()
		return nil, fmt.Errorf("%w: index has %d vectors but %d chunk infos", ErrCorrupt, idx.Size(), len(meta.ChunkInfos))
	}
	return &Snapshot{Index: idx, Infos: meta.ChunkInfos, Version: version}, nil
}

// DiskVersion returns the published version, or 0 when the marker is absent
// or unparsable.
func (s *Store) DiskVersion() float64 {
	raw, err := os.ReadFile(s.VersionPath())
	if err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func toMicros(v float64) int64 {
	return int64(math.Round(v * 1e6))
}
