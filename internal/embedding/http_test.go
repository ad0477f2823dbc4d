package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func fakeEmbeddingsServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		// reversed to check that results are reordered by index
		out := struct {
			Data []item `json:"data"`
		}{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			out.Data = append(out.Data, item{Index: i, Embedding: []float32{float32(len(req.Input[i])), 0, 0}})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func TestHTTPEmbedder_EmbedBatch(t *testing.T) {
	var requests atomic.Int32
	srv := fakeEmbeddingsServer(t, &requests)
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "secret", Dimensions: 3, BatchSize: 2, Concurrency: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != 3 || v[0] != 1 {
			t.Errorf("vector %d = %v, want normalized [1 0 0]", i, v)
		}
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("requests=%d, want 3 batches", got)
	}
	if e.Dimensions() != 3 {
		t.Errorf("Dimensions=%d", e.Dimensions())
	}
}

func TestHTTPEmbedder_ErrorStatus(t *testing.T) {
	var requests atomic.Int32
	srv := fakeEmbeddingsServer(t, &requests)
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL, APIKey: "wrong", Dimensions: 3, RequestsPerSecond: 100})
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrEncoding) {
		t.Errorf("err=%v, want ErrEncoding", err)
	}
}

func TestNewHTTPEmbedder_RequiresDimensions(t *testing.T) {
	if _, err := NewHTTPEmbedder(HTTPConfig{}); err == nil {
		t.Error("expected error for zero dimensions")
	}
}
