// Package main is the newsvault CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/newsvault/internal/cli"
	"github.com/hyperjump/newsvault/internal/config"
	"github.com/hyperjump/newsvault/internal/models"
	"github.com/hyperjump/newsvault/internal/server"
	"github.com/hyperjump/newsvault/internal/storage"
	"github.com/hyperjump/newsvault/internal/watcher"
	"github.com/hyperjump/newsvault/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/newsvault/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// errUsage is returned after usage has been printed for bad arguments.
var errUsage = errors.New("invalid usage")

// loadConfig loads config from path. When path is the default and a config.yaml
// exists in the current directory, that file is used instead. A .env file next
// to the config, and one in the current directory, are loaded first so API keys
// named by embedding.api_key_env can live there. Existing environment variables win.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(command string, args []string, out io.Writer) error {
	switch command {
	case "server":
		return runServer(args)
	case "search":
		return runSearch(args, out)
	case "index":
		return runIndex(args, out)
	case "delete":
		return runDelete(args, out)
	case "status":
		return runStatus(args, out)
	case "reindex":
		return runReindex(args, out)
	case "watch":
		return runWatch(args, out)
	case "version", "--version", "-v":
		fmt.Fprintf(out, "newsvault version %s\n", version)
		return nil
	case "help", "--help", "-h":
		printUsage(out)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

// session is a loaded config with a logger and opened components.
type session struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	components *Components
}

func (s *session) Close() {
	s.components.Close()
	_ = s.logger.Sync()
}

func openSession(ctx context.Context, configPath string, debug, longRunning bool) (*session, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug = debug || cfg.Debug
	var logger *zap.Logger
	if longRunning {
		logger, err = utils.NewLogger(debug)
	} else {
		logger, err = utils.NewCLILogger(debug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("Config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return &session{cfg: cfg, configPath: resolved, logger: logger, components: components}, nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func runServer(args []string) error {
	fs := newFlagSet("server")
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, *configPath, *debug, true)
	if err != nil {
		return err
	}
	defer sess.Close()
	cfg, logger, c := sess.cfg, sess.logger, sess.components

	watchSvc := watcher.New(c.Indexer, cfg.Watch.Directories,
		watcher.WithMatcher(c.Indexer.Matches),
		watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
		watcher.WithLogger(logger),
	)
	if err := watchSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watchSvc.Stop()
	go watchSvc.Sync()

	srv := server.NewServer(c.Engine, c.Indexer, c.Storage, c.Vectors, cfg,
		server.WithLogger(logger),
		server.WithWatcher(watchSvc, sess.configPath),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: newsvault search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  newsvault search central bank rates
  newsvault search --category politics --limit 5 election reform
  newsvault search --keyword=false --min-score 0.3 harbor expansion
  newsvault search --server "" --output json tram strike   # without a running server
`)
}

func runSearch(args []string, out io.Writer) error {
	fs := newFlagSet("search")
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the indexes directly)")
	limit := fs.Int("limit", 0, "number of results (default from config)")
	minScore := fs.Float64("min-score", 0, "minimum semantic score in [0, 1] (default from config)")
	kwEnabled := fs.Bool("keyword", true, "also run keyword search")
	category := fs.String("category", "", "only return documents in this category")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	if err := fs.Parse(searchArgsReorder(args)); err != nil {
		return err
	}
	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		return errUsage
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	query := &models.SearchQuery{
		Query:    queryStr,
		Limit:    *limit,
		Category: *category,
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "keyword":
			query.KeywordEnabled = kwEnabled
		case "min-score":
			query.MinScore = minScore
		}
	})

	var response *models.SearchResponse
	if *serverURL != "" {
		// The server holds the Bleve and snapshot locks; go through its API.
		response = &models.SearchResponse{}
		if err := postJSON(*serverURL+"/api/v1/search", query, http.StatusOK, response); err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
	} else {
		sess, err := openSession(context.Background(), *configPath, false, false)
		if err != nil {
			return err
		}
		defer sess.Close()
		response, err = sess.components.Engine.Search(context.Background(), query)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
	}
	return cli.WriteSearchResults(out, response, format)
}

func runIndex(args []string, out io.Writer) error {
	fs := newFlagSet("index")
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: newsvault index [flags] <file-or-directory>...")
		return errUsage
	}

	ctx := context.Background()
	sess, err := openSession(ctx, *configPath, *debug, false)
	if err != nil {
		return err
	}
	defer sess.Close()
	idx := sess.components.Indexer

	var failed int
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat path: %w", err)
		}
		if info.IsDir() {
			stats, err := idx.IndexDirectory(ctx, path)
			if err != nil {
				return fmt.Errorf("indexing directory failed: %w", err)
			}
			fmt.Fprintf(out, "%s: %d indexed, %d unchanged, %d failed\n", path, stats.Indexed, stats.Skipped, stats.Failed)
			failed += stats.Failed
			continue
		}
		indexed, err := idx.IndexFile(ctx, path)
		if err != nil {
			return fmt.Errorf("indexing %s failed: %w", path, err)
		}
		if indexed {
			fmt.Fprintf(out, "%s: indexed\n", path)
		} else {
			fmt.Fprintf(out, "%s: unchanged\n", path)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be indexed", failed)
	}
	return nil
}

func runDelete(args []string, out io.Writer) error {
	fs := newFlagSet("delete")
	configPath := fs.String("config", defaultConfigPath, "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: newsvault delete [flags] <document-id>...")
		return errUsage
	}

	ctx := context.Background()
	sess, err := openSession(ctx, *configPath, false, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	var missing []string
	for _, id := range fs.Args() {
		existed, err := sess.components.Indexer.DeleteDocument(ctx, id)
		if err != nil {
			return fmt.Errorf("deletion failed: %w", err)
		}
		if !existed {
			missing = append(missing, id)
			continue
		}
		fmt.Fprintf(out, "Document deleted: %s\n", id)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, strings.Join(missing, ", "))
	}
	return nil
}

func runReindex(args []string, out io.Writer) error {
	fs := newFlagSet("reindex")
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open the indexes directly)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var indexed int
	if *serverURL != "" {
		var resp struct {
			Indexed int `json:"indexed"`
		}
		if err := postJSON(*serverURL+"/api/v1/index/rebuild", nil, http.StatusOK, &resp); err != nil {
			return fmt.Errorf("reindex failed: %w", err)
		}
		indexed = resp.Indexed
	} else {
		ctx := context.Background()
		sess, err := openSession(ctx, *configPath, false, false)
		if err != nil {
			return err
		}
		defer sess.Close()
		indexed, err = sess.components.Indexer.Reindex(ctx)
		if err != nil {
			return fmt.Errorf("reindex failed: %w", err)
		}
	}
	fmt.Fprintf(out, "Reindexed %d document(s)\n", indexed)
	return nil
}

func runStatus(args []string, out io.Writer) error {
	fs := newFlagSet("status")
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the indexes directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	status := &cli.Status{}
	if *serverURL != "" {
		if err := getJSON(*serverURL+"/api/v1/status", status); err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
		return cli.WriteStatus(out, status, format)
	}

	ctx := context.Background()
	sess, err := openSession(ctx, *configPath, false, false)
	if err != nil {
		return err
	}
	defer sess.Close()
	db := sess.components.Storage
	if status.Documents, err = db.CountDocuments(ctx); err != nil {
		return fmt.Errorf("count documents failed: %w", err)
	}
	if status.Categories, err = db.CategoryCounts(ctx); err != nil {
		return fmt.Errorf("category counts failed: %w", err)
	}
	if status.Sources, err = db.SourceCounts(ctx); err != nil {
		return fmt.Errorf("source counts failed: %w", err)
	}
	status.Vectors = sess.components.Vectors.Stats()
	st := sess.cfg.Storage
	if status.DiskUsage, err = storage.MeasureDiskUsage(st.DatabasePath, st.BleveIndexPath, st.IndexDir); err != nil {
		sess.logger.Warn("Disk usage unavailable", zap.Error(err))
	}
	return cli.WriteStatus(out, status, format)
}

func runWatch(args []string, out io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: newsvault watch <add|list> [path]")
		fmt.Fprintln(os.Stderr, "  newsvault watch add <path>  Add an inbox directory to the running server")
		fmt.Fprintln(os.Stderr, "  newsvault watch list        List watched directories")
		return errUsage
	}
	sub := args[0]
	fs := newFlagSet("watch")
	serverURL := fs.String("server", defaultServerURL, "server URL")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: newsvault watch add <path>")
			return errUsage
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		body := map[string]interface{}{"path": path, "sync": true}
		if err := postJSON(*serverURL+"/api/v1/watch/directories", body, http.StatusCreated, nil); err != nil {
			return fmt.Errorf("add failed: %w", err)
		}
		fmt.Fprintf(out, "Added: %s\n", path)
	case "list":
		var resp struct {
			Directories []string `json:"directories"`
		}
		if err := getJSON(*serverURL+"/api/v1/watch/directories", &resp); err != nil {
			return fmt.Errorf("list failed: %w", err)
		}
		for _, d := range resp.Directories {
			fmt.Fprintln(out, d)
		}
	default:
		return fmt.Errorf("unknown watch subcommand: %s", sub)
	}
	return nil
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func postJSON(url string, body interface{}, wantStatus int, dst interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := httpClient.Post(url, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, wantStatus, dst)
}

func getJSON(url string, dst interface{}) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, http.StatusOK, dst)
}

func decodeResponse(resp *http.Response, wantStatus int, dst interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `newsvault - Semantic search over news articles and notes

Usage:
  newsvault server [flags]              Start the HTTP server and inbox watcher
  newsvault search [flags] <query>      Search documents
  newsvault index [flags] <path>...     Index files or directories
  newsvault delete [flags] <id>...      Delete documents
  newsvault status [flags]              Show index and storage status
  newsvault reindex [flags]             Rebuild the vector index from stored documents
  newsvault watch <add|list>            Manage inbox directories of a running server
  newsvault version                     Show version
  newsvault help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/newsvault/config.yaml,
                     or ./config.yaml when present)
  --server string    Server URL for search, status and watch (default: http://localhost:8080).
                     Use --server "" to open the indexes directly.
  --output string    Output format for search and status: text or json

Examples:
  newsvault server --debug
  newsvault index ~/clippings
  newsvault search central bank rates
  newsvault search --output json "tram strike"
  newsvault delete 3f0c1c9e-6a53-4f8e-9d83-4f3f6f1f8a10
  newsvault status --server ""
  newsvault reindex`)
}
