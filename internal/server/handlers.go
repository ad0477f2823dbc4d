package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/newsvault/internal/config"
	"github.com/hyperjump/newsvault/internal/extract"
	"github.com/hyperjump/newsvault/internal/models"
	"github.com/hyperjump/newsvault/internal/storage"
	"github.com/hyperjump/newsvault/internal/store"
)

// SourceUpload marks documents created through the upload endpoint.
const SourceUpload = "upload"

type documentList struct {
	Documents []*models.Document `json:"documents"`
	Total     int64              `json:"total"`
	Offset    int                `json:"offset"`
	Limit     int                `json:"limit"`
}

type batchRequest struct {
	Documents []*models.DocumentInput `json:"documents"`
}

type batchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type batchResponse struct {
	Indexed []string       `json:"indexed"`
	Failed  []batchFailure `json:"failed,omitempty"`
}

type deleteBatchRequest struct {
	IDs []string `json:"ids"`
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.respondErr(w, "status: count documents failed", err)
		return
	}
	categories, err := s.storage.CategoryCounts(ctx)
	if err != nil {
		s.respondErr(w, "status: category counts failed", err)
		return
	}
	sources, err := s.storage.SourceCounts(ctx)
	if err != nil {
		s.respondErr(w, "status: source counts failed", err)
		return
	}
	resp := map[string]interface{}{
		"documents":  docCount,
		"categories": categories,
		"sources":    sources,
		"vectors":    s.vectors.Stats(),
		"config": map[string]interface{}{
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"chunk_size":           s.config.Search.ChunkSize,
			"chunk_overlap":        s.config.Search.ChunkOverlap,
			"compression":          s.config.Storage.Compression,
		},
	}
	usage, err := storage.MeasureDiskUsage(
		s.config.Storage.DatabasePath,
		s.config.Storage.BleveIndexPath,
		s.config.Storage.IndexDir,
	)
	if err == nil {
		resp["disk_usage"] = usage
		resp["disk_usage_bytes"] = usage.Total()
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := models.ListOptions{
		Offset:   intParam(q.Get("offset"), 0),
		Limit:    intParam(q.Get("limit"), s.config.Search.DefaultLimit),
		Category: q.Get("category"),
		Source:   q.Get("source"),
	}
	if opts.Offset < 0 || opts.Limit < 0 {
		s.respondError(w, http.StatusBadRequest, "offset and limit must not be negative")
		return
	}
	opts.Limit = min(opts.Limit, s.config.Search.MaxLimit)
	docs, err := s.storage.ListDocuments(r.Context(), opts)
	if err != nil {
		s.respondErr(w, "list documents failed", err)
		return
	}
	total, err := s.storage.CountDocuments(r.Context())
	if err != nil {
		s.respondErr(w, "count documents failed", err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, documentList{Documents: docs, Total: total, Offset: opts.Offset, Limit: opts.Limit})
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("index document request", zap.String("id", input.ID), zap.String("title", input.Title))
	doc, err := s.indexer.IndexDocument(r.Context(), &input)
	if err != nil {
		s.respondErr(w, "indexing failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleIndexBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		s.respondError(w, http.StatusBadRequest, "documents are required")
		return
	}
	resp := batchResponse{Indexed: []string{}}
	for i, input := range req.Documents {
		if input == nil {
			resp.Failed = append(resp.Failed, batchFailure{Index: i, Error: "document is null"})
			continue
		}
		doc, err := s.indexer.IndexDocument(r.Context(), input)
		if err != nil {
			s.logger.Warn("batch item failed", zap.Int("index", i), zap.Error(err))
			resp.Failed = append(resp.Failed, batchFailure{Index: i, Error: err.Error()})
			continue
		}
		resp.Indexed = append(resp.Indexed, doc.ID)
	}
	status := http.StatusCreated
	if len(resp.Indexed) == 0 {
		status = http.StatusBadRequest
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	parsed, err := extract.NewExtractor().Parse(header.Filename, content)
	if err != nil {
		s.respondErr(w, "extract upload failed", err)
		return
	}
	input := &models.DocumentInput{
		Title:    parsed.Title,
		Content:  parsed.Content,
		Source:   r.FormValue("source"),
		Category: r.FormValue("category"),
		Author:   r.FormValue("author"),
		Metadata: map[string]interface{}{"filename": header.Filename},
	}
	if title := r.FormValue("title"); title != "" {
		input.Title = title
	}
	if input.Source == "" {
		input.Source = SourceUpload
	}
	doc, err := s.indexer.IndexDocument(r.Context(), input)
	if err != nil {
		s.respondErr(w, "indexing upload failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	var req deleteBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		s.respondError(w, http.StatusBadRequest, "ids are required")
		return
	}
	n, err := s.indexer.DeleteDocuments(r.Context(), req.IDs)
	if err != nil {
		s.respondErr(w, "batch deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.respondErr(w, "get document failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var update models.DocumentUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc, err := s.indexer.UpdateDocument(r.Context(), id, &update)
	if err != nil {
		s.respondErr(w, "update failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	existed, err := s.indexer.DeleteDocument(r.Context(), id)
	if err != nil {
		s.respondErr(w, "deletion failed", err)
		return
	}
	if !existed {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.respondErr(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r.URL.Query().Get("limit"), 20)
	history, err := s.engine.History(r.Context(), limit)
	if err != nil {
		s.respondErr(w, "search history failed", err)
		return
	}
	if history == nil {
		history = []*models.SearchHistory{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

func (s *Server) handleDeleteSearchHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid history id")
		return
	}
	if err := s.storage.DeleteSearchHistory(r.Context(), id); err != nil {
		s.respondErr(w, "delete search history failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

const (
	defaultTrendDays = 7
	maxTrendDays     = 365
	recentWindowDays = 7
)

func (s *Server) handleTimeTrend(w http.ResponseWriter, r *http.Request) {
	days := intParam(r.URL.Query().Get("days"), defaultTrendDays)
	if days < 1 || days > maxTrendDays {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxTrendDays))
		return
	}
	trend, err := s.storage.DocumentsPerDay(r.Context(), days)
	if err != nil {
		s.respondErr(w, "time trend failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"trend": trend, "days": days})
}

func (s *Server) handleAnalysisStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.respondErr(w, "stats: count documents failed", err)
		return
	}
	recent, err := s.storage.DocumentsPerDay(ctx, recentWindowDays)
	if err != nil {
		s.respondErr(w, "stats: recent documents failed", err)
		return
	}
	var recentTotal int64
	for _, n := range recent {
		recentTotal += n
	}
	categories, err := s.storage.CategoryCounts(ctx)
	if err != nil {
		s.respondErr(w, "stats: category counts failed", err)
		return
	}
	sources, err := s.storage.SourceCounts(ctx)
	if err != nil {
		s.respondErr(w, "stats: source counts failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total_documents":       total,
		"recent_7days":          recentTotal,
		"category_distribution": categories,
		"source_distribution":   sources,
		"index_size":            s.vectors.Stats().Vectors,
	})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	n, err := s.indexer.Reindex(r.Context())
	if err != nil {
		s.respondErr(w, "rebuild failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"indexed": n, "vectors": s.vectors.Stats()})
}

func (s *Server) handleClearIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.vectors.Clear(r.Context()); err != nil {
		s.respondErr(w, "clear index failed", err)
		return
	}
	s.logger.Info("Vector index cleared")
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondErr(w, "stat watch directory failed", err)
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := req.Sync == nil || *req.Sync
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.respondErr(w, "watch add directory failed", err)
		return
	}
	if s.configPath != "" {
		s.configMu.Lock()
		s.config.Watch.Directories = s.watch.Directories()
		err := config.Save(s.configPath, s.config)
		s.configMu.Unlock()
		if err != nil {
			s.logger.Warn("failed to persist watch config", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalid),
		errors.Is(err, store.ErrInvalidArgument),
		errors.Is(err, extract.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrEncoding):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
