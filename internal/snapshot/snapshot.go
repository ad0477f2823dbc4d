// Package snapshot persists the vector index and its identifier mapping as one
// atomic unit.
//
// Each save writes a new generation: an index artifact, a mapping artifact and
// a JSON manifest naming both. The CURRENT file names the live manifest and is
// replaced by rename as the commit point, so readers see either the previous
// generation or the new one, never a mix.
package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	CurrentFileName = "CURRENT"
	ManifestVersion = 1

	vectorsPrefix  = "vectors-"
	idsPrefix      = "ids-"
	manifestPrefix = "MANIFEST-"
	tmpSuffix      = ".tmp"
	writeBufSize   = 256 << 10
)

// Manifest describes one committed generation.
type Manifest struct {
	Version     int       `json:"version"`
	Generation  uint64    `json:"generation"`
	Dimension   int       `json:"dimension"`
	Count       uint64    `json:"count"`
	Codec       string    `json:"codec"`
	VectorsFile string    `json:"vectors_file"`
	IDsFile     string    `json:"ids_file"`
	CreatedAt   time.Time `json:"created_at"`
}

// Data is a loaded snapshot. Vectors holds len(IDs)*Dimension floats in position order.
type Data struct {
	Generation uint64
	Dimension  int
	Vectors    []float32
	IDs        []string
}

// Dir reads and writes snapshots in one directory.
type Dir struct {
	fs    FileSystem
	path  string
	codec Codec

	mu  sync.Mutex
	gen uint64
}

// Option configures a Dir.
type Option func(*Dir)

// WithFileSystem sets the filesystem used for all snapshot I/O.
func WithFileSystem(fsys FileSystem) Option {
	return func(d *Dir) { d.fs = fsys }
}

// WithCodec sets the payload compression for new snapshots.
// Existing snapshots are read with whatever codec they were written with.
func WithCodec(c Codec) Option {
	return func(d *Dir) { d.codec = c }
}

// Open prepares path for snapshots, creating it if needed.
func Open(path string, opts ...Option) (*Dir, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	d := &Dir{fs: Default, path: path}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.fs.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	entries, err := d.fs.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	for _, e := range entries {
		if g, ok := parseGeneration(e.Name()); ok && g > d.gen {
			d.gen = g
		}
	}
	return d, nil
}

// Path returns the snapshot directory.
func (d *Dir) Path() string {
	return d.path
}

// Generation returns the highest generation committed or seen on disk.
func (d *Dir) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// Save writes src as a new generation and commits it. On error the previously
// committed generation remains the live one.
func (d *Dir) Save(src Source) (*Manifest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	gen := d.gen + 1
	m := &Manifest{
		Version:     ManifestVersion,
		Generation:  gen,
		Dimension:   src.Dimension(),
		Count:       uint64(src.Len()),
		Codec:       d.codec.String(),
		VectorsFile: fmt.Sprintf("%s%06d.bin", vectorsPrefix, gen),
		IDsFile:     fmt.Sprintf("%s%06d.bin", idsPrefix, gen),
		CreatedAt:   time.Now().UTC(),
	}
	manifestName := fmt.Sprintf("%s%06d.json", manifestPrefix, gen)

	written := make([]string, 0, 3)
	abort := func(err error) (*Manifest, error) {
		for _, name := range written {
			_ = d.fs.Remove(filepath.Join(d.path, name))
		}
		return nil, err
	}

	if err := d.writeFile(m.VectorsFile, func(w io.Writer) error { return writeVectors(w, src, d.codec) }); err != nil {
		return abort(fmt.Errorf("write index artifact: %w", err))
	}
	written = append(written, m.VectorsFile)

	if err := d.writeFile(m.IDsFile, func(w io.Writer) error { return writeIDs(w, src, d.codec) }); err != nil {
		return abort(fmt.Errorf("write mapping artifact: %w", err))
	}
	written = append(written, m.IDsFile)

	if err := d.writeFile(manifestName, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}); err != nil {
		return abort(fmt.Errorf("write manifest: %w", err))
	}
	written = append(written, manifestName)
	d.syncDir()

	if err := d.writeFile(CurrentFileName, func(w io.Writer) error {
		_, err := io.WriteString(w, manifestName)
		return err
	}); err != nil {
		return abort(fmt.Errorf("commit snapshot: %w", err))
	}
	d.syncDir()

	d.gen = gen
	d.removeStale(gen)
	return m, nil
}

// Load reads the committed snapshot. It returns ErrNotFound when nothing has
// been committed and an error wrapping ErrCorrupt when the committed snapshot
// is incomplete, inconsistent or has a dimension other than dim.
func (d *Dir) Load(dim int) (*Data, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.readFile(CurrentFileName)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", CurrentFileName, err)
	}
	name := strings.TrimSpace(string(current))
	if name == "" || filepath.Base(name) != name {
		return nil, corruptf("%s names invalid manifest %q", CurrentFileName, name)
	}

	raw, err := d.readFile(name)
	if err != nil {
		return nil, corruptf("read manifest %s: %v", name, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, corruptf("decode manifest %s: %v", name, err)
	}
	if m.Version != ManifestVersion {
		return nil, corruptf("unsupported manifest version %d", m.Version)
	}
	if m.Dimension != dim {
		return nil, corruptf("snapshot dimension %d, expected %d", m.Dimension, dim)
	}

	var vectors []float32
	if err := d.readArtifact(m.VectorsFile, func(r io.Reader) error {
		vectors, err = readVectors(r, m.Dimension, m.Count)
		return err
	}); err != nil {
		return nil, err
	}
	var ids []string
	if err := d.readArtifact(m.IDsFile, func(r io.Reader) error {
		ids, err = readIDs(r, m.Count)
		return err
	}); err != nil {
		return nil, err
	}

	if m.Generation > d.gen {
		d.gen = m.Generation
	}
	return &Data{Generation: m.Generation, Dimension: m.Dimension, Vectors: vectors, IDs: ids}, nil
}

// Quarantine moves the committed pointer and every generation's files into a
// fresh quarantine-<unixnano> subdirectory and returns its path. The next Save
// starts from an empty directory.
func (d *Dir) Quarantine() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	target := filepath.Join(d.path, fmt.Sprintf("quarantine-%d", time.Now().UnixNano()))
	if err := d.fs.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	entries, err := d.fs.ReadDir(d.path)
	if err != nil {
		return "", fmt.Errorf("read snapshot dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if _, ok := parseGeneration(name); !ok && name != CurrentFileName {
			continue
		}
		if err := d.fs.Rename(filepath.Join(d.path, name), filepath.Join(target, name)); err != nil {
			return "", fmt.Errorf("quarantine %s: %w", name, err)
		}
	}
	return target, nil
}

func (d *Dir) writeFile(name string, fn func(io.Writer) error) error {
	final := filepath.Join(d.path, name)
	tmp := final + tmpSuffix
	f, err := d.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		f.Close()
		_ = d.fs.Remove(tmp)
		return err
	}
	bw := bufio.NewWriterSize(f, writeBufSize)
	if err := fn(bw); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = d.fs.Remove(tmp)
		return err
	}
	if err := d.fs.Rename(tmp, final); err != nil {
		_ = d.fs.Remove(tmp)
		return err
	}
	return nil
}

func (d *Dir) readFile(name string) ([]byte, error) {
	f, err := d.fs.OpenFile(filepath.Join(d.path, name), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (d *Dir) readArtifact(name string, fn func(io.Reader) error) error {
	if name == "" || filepath.Base(name) != name {
		return corruptf("manifest names invalid artifact %q", name)
	}
	f, err := d.fs.OpenFile(filepath.Join(d.path, name), os.O_RDONLY, 0)
	if err != nil {
		return corruptf("open %s: %v", name, err)
	}
	defer f.Close()
	return fn(bufio.NewReaderSize(f, writeBufSize))
}

// syncDir persists renames. Failure is ignored; some platforms cannot fsync directories.
func (d *Dir) syncDir() {
	f, err := d.fs.OpenFile(d.path, os.O_RDONLY, 0)
	if err != nil {
		return
	}
	_ = f.Sync()
	f.Close()
}

// removeStale deletes files of every generation other than keep, plus leftover temp files.
func (d *Dir) removeStale(keep uint64) {
	entries, err := d.fs.ReadDir(d.path)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(name, tmpSuffix) {
			_ = d.fs.Remove(filepath.Join(d.path, name))
			continue
		}
		if g, ok := parseGeneration(name); ok && g != keep {
			_ = d.fs.Remove(filepath.Join(d.path, name))
		}
	}
}

func parseGeneration(name string) (uint64, bool) {
	var rest string
	switch {
	case strings.HasPrefix(name, vectorsPrefix) && strings.HasSuffix(name, ".bin"):
		rest = strings.TrimSuffix(strings.TrimPrefix(name, vectorsPrefix), ".bin")
	case strings.HasPrefix(name, idsPrefix) && strings.HasSuffix(name, ".bin"):
		rest = strings.TrimSuffix(strings.TrimPrefix(name, idsPrefix), ".bin")
	case strings.HasPrefix(name, manifestPrefix) && strings.HasSuffix(name, ".json"):
		rest = strings.TrimSuffix(strings.TrimPrefix(name, manifestPrefix), ".json")
	default:
		return 0, false
	}
	g, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return g, true
}
