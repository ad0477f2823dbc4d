package embedding

import (
	"context"
	"testing"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(16)
	a, _ := e.Embed(ctx, "Quarterly earnings beat expectations")
	b, _ := e.Embed(ctx, "Quarterly earnings beat expectations")
	if len(a) != 16 {
		t.Fatalf("len=%d, want 16", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text should embed identically")
		}
	}
}

func TestMockEmbedder_SharedWordsAreCloser(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(256)
	q, _ := e.Embed(ctx, "central bank raises interest rates")
	near, _ := e.Embed(ctx, "bank raises rates again")
	far, _ := e.Embed(ctx, "football season opener tonight")

	dist := func(x, y []float32) float64 {
		var s float64
		for i := range x {
			d := float64(x[i] - y[i])
			s += d * d
		}
		return s
	}
	if dist(q, near) >= dist(q, far) {
		t.Errorf("expected overlapping text to be closer: near=%f far=%f", dist(q, near), dist(q, far))
	}
}

func TestMockEmbedder_DefaultDimensions(t *testing.T) {
	if d := NewMockEmbedder(0).Dimensions(); d != 384 {
		t.Errorf("Dimensions=%d, want 384", d)
	}
}
