// Package store is the single entry point to the semantic index. It owns the
// flat vector index and its identifier mapping, encodes text through an
// Embedder, and writes every mutation through to a snapshot before readers can
// observe it.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/newsvault/internal/embedding"
	"github.com/hyperjump/newsvault/internal/snapshot"
	"github.com/hyperjump/newsvault/internal/vector"
)

// State reports how the store was initialized.
type State int

const (
	// StateEmpty means no snapshot existed.
	StateEmpty State = iota
	// StateLoaded means a snapshot was loaded.
	StateLoaded
	// StateRecovered means the snapshot was unreadable and the store started empty.
	StateRecovered
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoaded:
		return "loaded"
	case StateRecovered:
		return "recovered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Hit is a search result. Score is exp(-Distance): 1 for an exact match,
// approaching 0 as distance grows.
type Hit struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

// Stats summarizes the store contents.
type Stats struct {
	Vectors    int    `json:"vectors"`
	Documents  int    `json:"documents"`
	Dimension  int    `json:"dimension"`
	Generation uint64 `json:"generation"`
	State      string `json:"state"`
}

// Store composes the embedder, flat index, identifier mapping and snapshot directory.
//
// Mutations are serialized by writeMu. Each one builds and persists the next
// state before publishing it under mu, so concurrent searches see either the
// old state or the new one and never a state that is not on disk.
type Store struct {
	dim      int
	embedder embedding.Embedder
	snap     *snapshot.Dir
	logger   *zap.Logger
	strict   bool
	state    State

	writeMu sync.Mutex
	mu      sync.RWMutex
	index   *vector.FlatIndex
	ids     *vector.IDMap
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStrictLoad makes New fail when the existing snapshot cannot be loaded
// instead of starting empty.
func WithStrictLoad(strict bool) Option {
	return func(s *Store) { s.strict = strict }
}

// New creates a store of the given dimension and loads the snapshot in snap.
//
// A missing snapshot yields an empty store. An unreadable snapshot is moved
// aside and the store starts empty with a warning, unless WithStrictLoad is
// set, in which case New returns an error wrapping ErrPersistence.
func New(embedder embedding.Embedder, snap *snapshot.Dir, dim int, opts ...Option) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrConfiguration, dim)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrConfiguration)
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: snapshot directory is required", ErrConfiguration)
	}
	if d := embedder.Dimensions(); d != dim {
		return nil, fmt.Errorf("%w: embedder produces %d dimensions, store expects %d", ErrConfiguration, d, dim)
	}

	s := &Store{
		dim:      dim,
		embedder: embedder,
		snap:     snap,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.index, _ = vector.NewFlatIndex(s.dim)
	s.ids = vector.NewIDMap()

	data, err := s.snap.Load(s.dim)
	switch {
	case err == nil:
		index, ierr := vector.FromData(s.dim, data.Vectors)
		if ierr != nil || index.Count() != len(data.IDs) {
			err = fmt.Errorf("%w: %d vectors for %d ids", snapshot.ErrCorrupt, len(data.Vectors)/s.dim, len(data.IDs))
			break
		}
		s.index = index
		s.ids = vector.NewIDMap(data.IDs...)
		s.state = StateLoaded
		s.logger.Info("Loaded vector snapshot",
			zap.String("dir", s.snap.Path()),
			zap.Uint64("generation", data.Generation),
			zap.Int("vectors", index.Count()))
		return nil
	case errors.Is(err, snapshot.ErrNotFound):
		s.state = StateEmpty
		s.logger.Info("No vector snapshot found, starting empty", zap.String("dir", s.snap.Path()))
		return nil
	}

	if s.strict {
		return persistenceError(fmt.Errorf("load snapshot: %w", err))
	}
	s.state = StateRecovered
	moved, qerr := s.snap.Quarantine()
	if qerr != nil {
		s.logger.Error("Failed to quarantine unreadable snapshot", zap.Error(qerr))
	}
	s.logger.Warn("VECTOR SNAPSHOT UNREADABLE: starting with an EMPTY index; reindex documents to restore search",
		zap.String("dir", s.snap.Path()),
		zap.String("quarantined_to", moved),
		zap.Error(err))
	return nil
}

// AddDocument encodes text and appends it under id.
func (s *Store) AddDocument(ctx context.Context, id, text string) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return encodingError(err)
	}
	return s.append([]string{id}, [][]float32{vec})
}

// AddDocuments encodes texts and appends them under the matching ids with a
// single snapshot write. ids and texts must have the same length.
func (s *Store) AddDocuments(ctx context.Context, ids, texts []string) error {
	if len(ids) != len(texts) {
		return fmt.Errorf("%w: %d ids for %d texts", ErrInvalidArgument, len(ids), len(texts))
	}
	if len(ids) == 0 {
		return nil
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return encodingError(err)
	}
	if len(vecs) != len(texts) {
		return encodingError(fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts)))
	}
	return s.append(ids, vecs)
}

func (s *Store) append(ids []string, vecs [][]float32) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.index.Validate(vecs); err != nil {
		return err
	}
	next := &pending{index: s.index, ids: s.ids, extraVecs: vecs, extraIDs: ids}
	if err := s.persist(next); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.AddBatch(vecs); err != nil {
		return err
	}
	s.ids.Append(ids...)
	return nil
}

// Search encodes queryText and returns the min(k, Size()) nearest stored
// vectors, closest first. k <= 0 or an empty store yields an empty result.
// With k <= 0 the query is never encoded, so embedder failures go unreported.
func (s *Store) Search(ctx context.Context, queryText string, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	query, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, encodingError(err)
	}
	return s.SearchVector(query, k)
}

// SearchVector is Search with an already encoded query.
func (s *Store) SearchVector(query []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	neighbors, err := s.index.Search(query, k)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(neighbors))
	for i, n := range neighbors {
		hits[i] = Hit{
			ID:       s.ids.At(n.Position),
			Distance: n.Distance,
			Score:    vector.Score(n.Distance),
		}
	}
	return hits, nil
}

// RemoveDocument removes every vector owned by id by rebuilding the index
// without them. It reports false, without touching state or disk, when id
// owns nothing. If the rebuild or its snapshot fails the previous state stays
// in place.
func (s *Store) RemoveDocument(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	positions := s.ids.Positions(id)
	if len(positions) == 0 {
		return false, nil
	}
	removed := roaring.New()
	for _, p := range positions {
		removed.Add(uint32(p))
	}

	index, ids, err := s.rebuild(removed)
	if err != nil {
		return false, err
	}
	if err := s.persist(&pending{index: index, ids: ids}); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.index, s.ids = index, ids
	s.mu.Unlock()

	s.logger.Info("Removed document from vector index",
		zap.String("id", id),
		zap.Uint64("vectors_removed", removed.GetCardinality()),
		zap.Int("vectors_remaining", index.Count()))
	return true, nil
}

// rebuild copies every position not in removed into a new index and mapping,
// keeping relative order. Caller holds writeMu.
func (s *Store) rebuild(removed *roaring.Bitmap) (*vector.FlatIndex, *vector.IDMap, error) {
	index, err := vector.NewFlatIndex(s.dim)
	if err != nil {
		return nil, nil, err
	}
	ids := vector.NewIDMap()
	count := s.index.Count()
	for pos := 0; pos < count; pos++ {
		if removed.Contains(uint32(pos)) {
			continue
		}
		vec, err := s.index.Reconstruct(pos)
		if err != nil {
			return nil, nil, fmt.Errorf("reconstruct position %d: %w", pos, err)
		}
		if _, err := index.Add(vec); err != nil {
			return nil, nil, err
		}
		ids.Append(s.ids.At(pos))
	}
	want := count - int(removed.GetCardinality())
	if index.Count() != want || ids.Len() != want {
		return nil, nil, fmt.Errorf("rebuild produced %d vectors and %d ids, expected %d", index.Count(), ids.Len(), want)
	}
	return index, ids, nil
}

// Clear removes everything and persists the empty state.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	index, _ := vector.NewFlatIndex(s.dim)
	ids := vector.NewIDMap()
	if err := s.persist(&pending{index: index, ids: ids}); err != nil {
		return err
	}
	s.mu.Lock()
	s.index, s.ids = index, ids
	s.mu.Unlock()
	s.logger.Info("Cleared vector index")
	return nil
}

func (s *Store) persist(next *pending) error {
	if _, err := s.snap.Save(next); err != nil {
		s.logger.Error("Failed to write vector snapshot",
			zap.String("dir", s.snap.Path()),
			zap.Int("vectors", next.Len()),
			zap.Error(err))
		return persistenceError(err)
	}
	return nil
}

// Size returns the number of stored vectors.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Count()
}

// Contains reports whether id owns at least one vector.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids.Contains(id)
}

// Dimension returns the vector dimension.
func (s *Store) Dimension() int {
	return s.dim
}

// State reports how the store was initialized.
func (s *Store) State() State {
	return s.state
}

// Stats returns counts and snapshot information.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make(map[string]struct{})
	for i := 0; i < s.ids.Len(); i++ {
		docs[s.ids.At(i)] = struct{}{}
	}
	return Stats{
		Vectors:    s.index.Count(),
		Documents:  len(docs),
		Dimension:  s.dim,
		Generation: s.snap.Generation(),
		State:      s.state.String(),
	}
}

// pending presents a base index and mapping, optionally followed by vectors
// not yet appended, as a snapshot source.
type pending struct {
	index     *vector.FlatIndex
	ids       *vector.IDMap
	extraVecs [][]float32
	extraIDs  []string
}

func (p *pending) Dimension() int { return p.index.Dimension() }
func (p *pending) Len() int       { return p.index.Count() + len(p.extraIDs) }

func (p *pending) Vector(pos int) []float32 {
	if n := p.index.Count(); pos >= n {
		return p.extraVecs[pos-n]
	}
	return p.index.Vector(pos)
}

func (p *pending) ID(pos int) string {
	if n := p.ids.Len(); pos >= n {
		return p.extraIDs[pos-n]
	}
	return p.ids.At(pos)
}
