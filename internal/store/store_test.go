package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/newsvault/internal/snapshot"
)

var errNoVector = errors.New("no vector for text")

// fakeEmbedder maps known texts to fixed vectors and fails on anything else.
type fakeEmbedder struct {
	dim     int
	vectors map[string][]float32
	calls   atomic.Int32
}

func newFakeEmbedder(dim int, vectors map[string][]float32) *fakeEmbedder {
	return &fakeEmbedder{dim: dim, vectors: vectors}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errNoVector, text)
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }
func (f *fakeEmbedder) Close() error    { return nil }

func basisEmbedder() *fakeEmbedder {
	return newFakeEmbedder(3, map[string][]float32{
		"a":   {1, 0, 0},
		"b":   {0, 1, 0},
		"c":   {0, 0, 1},
		"ab":  {1, 1, 0},
		"bad": {1, 0},
	})
}

func openStore(t *testing.T, path string, emb *fakeEmbedder, opts ...snapshot.Option) *Store {
	t.Helper()
	dir, err := snapshot.Open(path, opts...)
	require.NoError(t, err)
	s, err := New(emb, dir, emb.dim)
	require.NoError(t, err)
	return s
}

func TestStore_ConcreteScenario(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir(), basisEmbedder())
	assert.Equal(t, StateEmpty, s.State())

	require.NoError(t, s.AddDocument(ctx, "1", "a"))
	require.NoError(t, s.AddDocument(ctx, "2", "b"))

	hits, err := s.Search(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "1", hits[0].ID)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Equal(t, "2", hits[1].ID)
	assert.InDelta(t, math.Exp(-2), hits[1].Score, 1e-12)
	assert.Equal(t, 2.0, hits[1].Distance)
}

func TestStore_DuplicateIDs(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir(), basisEmbedder())

	require.NoError(t, s.AddDocument(ctx, "x", "a"))
	require.NoError(t, s.AddDocument(ctx, "x", "a"))
	assert.Equal(t, 2, s.Size())

	removed, err := s.RemoveDocument(ctx, "x")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, s.Size())
}

func TestStore_SelfMatch(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir(), basisEmbedder())
	require.NoError(t, s.AddDocuments(ctx, []string{"da", "db", "dc", "dab"}, []string{"a", "b", "c", "ab"}))

	for text, id := range map[string]string{"a": "da", "b": "db", "c": "dc", "ab": "dab"} {
		hits, err := s.Search(ctx, text, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, id, hits[0].ID, text)
		assert.Equal(t, 0.0, hits[0].Distance, text)
		assert.Equal(t, 1.0, hits[0].Score, text)
	}
}

func TestStore_KClamping(t *testing.T) {
	ctx := context.Background()
	emb := basisEmbedder()
	s := openStore(t, t.TempDir(), emb)

	hits, err := s.Search(ctx, "a", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.AddDocuments(ctx, []string{"1", "2"}, []string{"a", "b"}))

	hits, err = s.Search(ctx, "a", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	calls := emb.calls.Load()
	for _, k := range []int{0, -1} {
		hits, err = s.Search(ctx, "a", k)
		require.NoError(t, err)
		assert.NotNil(t, hits)
		assert.Empty(t, hits)
	}
	assert.Equal(t, calls, emb.calls.Load(), "k <= 0 should not call the embedder")
}

func TestStore_RemovalCompleteness(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir(), basisEmbedder())
	require.NoError(t, s.AddDocuments(ctx, []string{"x", "y", "x", "z"}, []string{"a", "b", "ab", "c"}))

	removed, err := s.RemoveDocument(ctx, "x")
	require.NoError(t, err)
	require.True(t, removed)
	assert.Equal(t, 2, s.Size())
	assert.False(t, s.Contains("x"))

	for _, q := range []string{"a", "b", "c", "ab"} {
		hits, err := s.Search(ctx, q, 10)
		require.NoError(t, err)
		for _, h := range hits {
			assert.NotEqual(t, "x", h.ID)
		}
	}

	// remaining positions keep their ids after the rebuild
	hits, err := s.Search(ctx, "b", 1)
	require.NoError(t, err)
	assert.Equal(t, "y", hits[0].ID)
	hits, err = s.Search(ctx, "c", 1)
	require.NoError(t, err)
	assert.Equal(t, "z", hits[0].ID)
}

func TestStore_RemoveAbsentIsNoOp(t *testing.T) {
	ctx := context.Background()
	ffs := snapshot.NewFaultyFS(nil)
	s := openStore(t, t.TempDir(), basisEmbedder(), snapshot.WithFileSystem(ffs))
	require.NoError(t, s.AddDocuments(ctx, []string{"1", "2"}, []string{"a", "b"}))

	before, err := s.Search(ctx, "ab", 10)
	require.NoError(t, err)
	writes := ffs.Writes()
	gen := s.Stats().Generation

	removed, err := s.RemoveDocument(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 2, s.Size())
	assert.Equal(t, writes, ffs.Writes(), "no snapshot write expected")
	assert.Equal(t, gen, s.Stats().Generation)

	after, err := s.Search(ctx, "ab", 10)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_RoundTripDurability(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	emb := basisEmbedder()

	s := openStore(t, path, emb)
	require.NoError(t, s.AddDocuments(ctx, []string{"1", "2", "1"}, []string{"a", "b", "c"}))
	_, err := s.RemoveDocument(ctx, "2")
	require.NoError(t, err)
	want, err := s.Search(ctx, "ab", 10)
	require.NoError(t, err)

	reopened := openStore(t, path, emb)
	assert.Equal(t, StateLoaded, reopened.State())
	assert.Equal(t, s.Size(), reopened.Size())
	got, err := reopened.Search(ctx, "ab", 10)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_RemoveKeepsStateWhenPersistenceFails(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	ffs := snapshot.NewFaultyFS(nil)
	emb := basisEmbedder()
	s := openStore(t, path, emb, snapshot.WithFileSystem(ffs))
	require.NoError(t, s.AddDocuments(ctx, []string{"1", "2", "1"}, []string{"a", "b", "c"}))
	before, err := s.Search(ctx, "a", 10)
	require.NoError(t, err)

	ffs.AddRule(snapshot.CurrentFileName, snapshot.Fault{FailOnRename: true})
	removed, err := s.RemoveDocument(ctx, "1")
	assert.False(t, removed)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, snapshot.ErrInjected)
	ffs.ClearRules()

	assert.Equal(t, 3, s.Size())
	after, err := s.Search(ctx, "a", 10)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	reopened := openStore(t, path, emb)
	assert.Equal(t, 3, reopened.Size())
}

func TestStore_AddKeepsStateWhenPersistenceFails(t *testing.T) {
	ctx := context.Background()
	ffs := snapshot.NewFaultyFS(nil)
	s := openStore(t, t.TempDir(), basisEmbedder(), snapshot.WithFileSystem(ffs))
	require.NoError(t, s.AddDocument(ctx, "1", "a"))

	ffs.AddRule("vectors", snapshot.Fault{FailOnSync: true})
	err := s.AddDocument(ctx, "2", "b")
	assert.ErrorIs(t, err, ErrPersistence)
	err = s.AddDocuments(ctx, []string{"3", "4"}, []string{"b", "c"})
	assert.ErrorIs(t, err, ErrPersistence)
	ffs.ClearRules()

	assert.Equal(t, 1, s.Size())
	assert.False(t, s.Contains("2"))
	require.NoError(t, s.AddDocument(ctx, "2", "b"))
	assert.Equal(t, 2, s.Size())
}

func TestStore_EncodingError(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir(), basisEmbedder())

	err := s.AddDocument(ctx, "1", "unknown text")
	assert.ErrorIs(t, err, ErrEncoding)
	assert.ErrorIs(t, err, errNoVector)

	err = s.AddDocuments(ctx, []string{"1", "2"}, []string{"a", "unknown text"})
	assert.ErrorIs(t, err, ErrEncoding)
	assert.Equal(t, 0, s.Size())

	_, err = s.Search(ctx, "unknown text", 3)
	assert.ErrorIs(t, err, ErrEncoding)

	hits, err := s.Search(ctx, "unknown text", 0)
	require.NoError(t, err, "k <= 0 returns before encoding")
	assert.Empty(t, hits)
}

func TestStore_InvalidArgument(t *testing.T) {
	ctx := context.Background()
	emb := basisEmbedder()
	s := openStore(t, t.TempDir(), emb)

	err := s.AddDocuments(ctx, []string{"1", "2"}, []string{"a"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, int32(0), emb.calls.Load(), "lengths are checked before encoding")
	assert.Equal(t, 0, s.Size())
}

func TestStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir(), basisEmbedder())

	err := s.AddDocument(ctx, "1", "bad")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	err = s.AddDocuments(ctx, []string{"1", "2"}, []string{"a", "bad"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, s.Size())

	require.NoError(t, s.AddDocument(ctx, "1", "a"))
	_, err = s.Search(ctx, "bad", 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestNew_Configuration(t *testing.T) {
	dir, err := snapshot.Open(t.TempDir())
	require.NoError(t, err)

	_, err = New(basisEmbedder(), dir, 384)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = New(basisEmbedder(), dir, 0)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = New(nil, dir, 3)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = New(basisEmbedder(), nil, 3)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func corruptSnapshot(t *testing.T, path string) {
	t.Helper()
	emb := basisEmbedder()
	s := openStore(t, path, emb)
	require.NoError(t, s.AddDocument(context.Background(), "1", "a"))
	matches, err := filepath.Glob(filepath.Join(path, "ids-*.bin"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.NoError(t, os.Remove(matches[0]))
}

func TestNew_CorruptSnapshotFallsBackToEmpty(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	corruptSnapshot(t, path)

	s := openStore(t, path, basisEmbedder())
	assert.Equal(t, StateRecovered, s.State())
	assert.Equal(t, 0, s.Size())

	quarantined, err := filepath.Glob(filepath.Join(path, "quarantine-*"))
	require.NoError(t, err)
	assert.Len(t, quarantined, 1)

	require.NoError(t, s.AddDocument(ctx, "2", "b"))
	reopened := openStore(t, path, basisEmbedder())
	assert.Equal(t, StateLoaded, reopened.State())
	assert.Equal(t, 1, reopened.Size())
}

func TestNew_CorruptSnapshotStrict(t *testing.T) {
	path := t.TempDir()
	corruptSnapshot(t, path)

	dir, err := snapshot.Open(path)
	require.NoError(t, err)
	_, err = New(basisEmbedder(), dir, 3, WithStrictLoad(true))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, snapshot.ErrCorrupt)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	s := openStore(t, path, basisEmbedder())
	require.NoError(t, s.AddDocuments(ctx, []string{"1", "2"}, []string{"a", "b"}))

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, 0, openStore(t, path, basisEmbedder()).Size())
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir(), basisEmbedder())
	require.NoError(t, s.AddDocuments(ctx, []string{"1", "1", "2"}, []string{"a", "b", "c"}))

	st := s.Stats()
	assert.Equal(t, 3, st.Vectors)
	assert.Equal(t, 2, st.Documents)
	assert.Equal(t, 3, st.Dimension)
	assert.Equal(t, uint64(1), st.Generation)
	assert.Equal(t, "empty", st.State)
}

func TestStore_ConcurrentSearchDuringMutation(t *testing.T) {
	ctx := context.Background()
	emb := basisEmbedder()
	s := openStore(t, t.TempDir(), emb)
	require.NoError(t, s.AddDocuments(ctx, []string{"keep", "keep"}, []string{"a", "b"}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				hits, err := s.Search(ctx, "ab", 10)
				if !assert.NoError(t, err) {
					return
				}
				for i := 1; i < len(hits); i++ {
					assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("doc-%d", i)
		require.NoError(t, s.AddDocuments(ctx, []string{id, id}, []string{"c", "ab"}))
		removed, err := s.RemoveDocument(ctx, id)
		require.NoError(t, err)
		require.True(t, removed)
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 2, s.Size())
}
