package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/newsvault/internal/cli"
	"github.com/hyperjump/newsvault/internal/fileid"
	"github.com/hyperjump/newsvault/internal/models"
	"github.com/hyperjump/newsvault/internal/storage"
	"github.com/hyperjump/newsvault/internal/store"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"central bank rates", "-min-score", "0.5"},
			expected: []string{"-min-score", "0.5", "central bank rates"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-min-score", "0.5", "central bank rates"},
			expected: []string{"-min-score", "0.5", "central bank rates"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"central bank rates"},
			expected: []string{"central bank rates"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-limit", "5"},
			expected: []string{"-limit", "5", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"harbor"}, "harbor"},
		{"multiple words", []string{"harbor", "expansion"}, "harbor expansion"},
		{"single quoted phrase", []string{"harbor expansion"}, "harbor expansion"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchQuery(tt.args); got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
embedding:
  provider: mock
storage:
  database_path: "./test.db"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	origWd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(origWd) }()
	require.NoError(t, os.Chdir(dir))

	cfg, resolved, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	assert.Equal(t, configPathCanon, resolvedCanon)
	assert.True(t, cfg.Debug)
}

func TestLoadConfig_loadsDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("embedding:\n  provider: gemini\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("NEWSVAULT_TEST_KEY=from-dotenv\n"), 0600))
	t.Setenv("NEWSVAULT_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("NEWSVAULT_TEST_KEY"))

	cfg, resolved, err := loadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, configPath, resolved)
	assert.Equal(t, "GEMINI_API_KEY", cfg.Embedding.APIKeyEnv)
	assert.Equal(t, "from-dotenv", os.Getenv("NEWSVAULT_TEST_KEY"))
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: ./data/documents.db
  bleve_index_path: ./data/keyword
  index_dir: ./data/vectors
  compression: zstd
embedding:
  provider: mock
  dimensions: 32
search:
  chunk_size: 50
  chunk_overlap: 5
watch:
  include: ["**/*.txt", "**/*.md"]
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	return configPath
}

func runCmd(t *testing.T, command string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(command, args, &out)
	return out.String(), err
}

func TestCommands_directMode(t *testing.T) {
	configPath := writeTestConfig(t)
	docs := filepath.Join(filepath.Dir(configPath), "clippings")
	require.NoError(t, os.MkdirAll(docs, 0755))
	harborPath := filepath.Join(docs, "harbor.txt")
	require.NoError(t, os.WriteFile(harborPath, []byte("The council approved the harbor expansion plan."), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "opera.md"), []byte("# Opera\n\nThe opera season opens tonight."), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "ignored.rst"), []byte("not included"), 0600))

	out, err := runCmd(t, "index", "-config", configPath, docs)
	require.NoError(t, err)
	assert.Contains(t, out, "2 indexed, 0 unchanged, 0 failed")

	out, err = runCmd(t, "index", "-config", configPath, docs)
	require.NoError(t, err)
	assert.Contains(t, out, "0 indexed, 2 unchanged, 0 failed")

	out, err = runCmd(t, "search", "-config", configPath, "-server", "", "-output", "json", "harbor", "expansion")
	require.NoError(t, err)
	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.SemanticResults)
	assert.Equal(t, "harbor", resp.SemanticResults[0].Document.Title)

	out, err = runCmd(t, "status", "-config", configPath, "-server", "", "-output", "json")
	require.NoError(t, err)
	var st cli.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.EqualValues(t, 2, st.Documents)
	assert.Equal(t, 2, st.Vectors.Documents)
	assert.Equal(t, 32, st.Vectors.Dimension)
	assert.Positive(t, st.DiskUsage.Total())

	harborID := fileid.FileDocID(harborPath)
	out, err = runCmd(t, "delete", "-config", configPath, harborID)
	require.NoError(t, err)
	assert.Contains(t, out, "Document deleted: "+harborID)

	_, err = runCmd(t, "delete", "-config", configPath, harborID)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

	out, err = runCmd(t, "reindex", "-config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Reindexed 1 document(s)")
}

func TestCommands_usageErrors(t *testing.T) {
	_, err := runCmd(t, "search", "-server", "")
	assert.ErrorIs(t, err, errUsage)
	_, err = runCmd(t, "index")
	assert.ErrorIs(t, err, errUsage)
	_, err = runCmd(t, "bogus")
	assert.Error(t, err)
	_, err = runCmd(t, "search", "-output", "yaml", "query")
	assert.Error(t, err)

	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "newsvault version dev\n", out)
}

func TestCommands_serverMode(t *testing.T) {
	var gotQuery models.SearchQuery
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/search", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotQuery)
		_ = json.NewEncoder(w).Encode(models.SearchResponse{
			Query:         gotQuery.Query,
			TotalSemantic: 1,
			SemanticResults: []*models.SearchResult{
				{Rank: 1, Score: 0.9, Document: &models.Document{ID: "d1", Title: "Tram strike"}},
			},
		})
	})
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"documents": 4,
			"vectors":   store.Stats{Vectors: 9, Documents: 4, Dimension: 384, State: "loaded"},
		})
	})
	mux.HandleFunc("/api/v1/watch/directories", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"status":"added"}`))
			return
		}
		_, _ = w.Write([]byte(`{"directories":["/srv/inbox"]}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	out, err := runCmd(t, "search", "tram", "strike", "-server", ts.URL, "-keyword=false", "-category", "transport")
	require.NoError(t, err)
	assert.Contains(t, out, "Tram strike")
	assert.Equal(t, "tram strike", gotQuery.Query)
	assert.Equal(t, "transport", gotQuery.Category)
	require.NotNil(t, gotQuery.KeywordEnabled)
	assert.False(t, *gotQuery.KeywordEnabled)
	assert.Nil(t, gotQuery.MinScore, "unset -min-score defers to the server config")

	_, err = runCmd(t, "search", "tram", "-server", ts.URL, "-min-score", "0")
	require.NoError(t, err)
	require.NotNil(t, gotQuery.MinScore)
	assert.Zero(t, *gotQuery.MinScore)

	out, err = runCmd(t, "status", "-server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Documents:   4")
	assert.Contains(t, out, "9 (4 documents, dimension 384)")

	out, err = runCmd(t, "watch", "list", "-server", ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "/srv/inbox\n", out)

	out, err = runCmd(t, "watch", "add", "-server", ts.URL, t.TempDir())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Added: "))

	_, err = runCmd(t, "search", "-server", ts.URL+"/missing", "anything")
	assert.Error(t, err)
}
