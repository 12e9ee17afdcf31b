// Package httpapi implements the thin HTTP adapter described in §6 of
// SPEC_FULL.md, routed with gorilla/mux: a Handler holding the router, with
// writeJSON/writeError helpers, over the indexing, search, and settings
// endpoints C4, C8, and C9 expose.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"owlsearch/internal/builder"
	"owlsearch/internal/encoder"
	"owlsearch/internal/errs"
	"owlsearch/internal/metrics"
	"owlsearch/internal/query"
)

// Handler wires the Builder and Encoder into the HTTP surface.
type Handler struct {
	builder *builder.Builder
	encoder *encoder.Adapter
	router  *mux.Router
}

// NewHandler constructs a Handler and registers every route.
func NewHandler(b *builder.Builder, enc *encoder.Adapter) *Handler {
	h := &Handler{builder: b, encoder: enc, router: mux.NewRouter()}
	h.setupRoutes()
	return h
}

// Router returns the configured router, suitable for http.ListenAndServe.
func (h *Handler) Router() *mux.Router {
	return h.router
}

func (h *Handler) setupRoutes() {
	h.router.HandleFunc("/embed", h.embed).Methods(http.MethodPost)
	h.router.HandleFunc("/build_index", h.buildIndex).Methods(http.MethodPost)
	h.router.HandleFunc("/force_rebuild_index", h.forceRebuildIndex).Methods(http.MethodPost)
	h.router.HandleFunc("/index_status", h.indexStatus).Methods(http.MethodGet)
	h.router.HandleFunc("/search_functions_simple", h.searchFunctions).Methods(http.MethodPost)
	h.router.HandleFunc("/get_class_stats", h.getClassStats).Methods(http.MethodPost)
	h.router.HandleFunc("/settings", h.getSettings).Methods(http.MethodGet)
	h.router.HandleFunc("/update_settings", h.updateSettings).Methods(http.MethodPost)
	h.router.HandleFunc("/set_batch_size", h.setBatchSize).Methods(http.MethodPost)
	h.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// handleErr maps an error to the status code §7 assigns its kind: 404 for a
// missing root, 500 for a fatal encoder failure, 200 with an explanatory
// body for everything else (a corrupt artifact or mismatched model config
// that the builder already recovered from by rebuilding).
func (h *Handler) handleErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInputNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrEncoderMemory):
		h.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"message": err.Error()})
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (h *Handler) embed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	vectors, err := h.encoder.Encode(r.Context(), req.Texts)
	if err != nil {
		h.handleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, embedResponse{Embeddings: vectors})
}

type targetRequest struct {
	Directory string `json:"directory"`
	FileExt   string `json:"file_ext"`
}

type buildResponse struct {
	FunctionCount  int  `json:"function_count"`
	FilesProcessed int  `json:"files_processed"`
	FastPath       bool `json:"fast_path"`
}

func (h *Handler) buildIndex(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.runBuild(w, r.Context(), req, false)
}

func (h *Handler) forceRebuildIndex(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.builder.ClearCache(req.Directory, req.FileExt); err != nil {
		h.handleErr(w, err)
		return
	}
	h.runBuild(w, r.Context(), req, true)
}

func (h *Handler) runBuild(w http.ResponseWriter, ctx context.Context, req targetRequest, forced bool) {
	funcs, result, err := h.builder.Build(ctx, req.Directory, req.FileExt, true)
	if err != nil {
		h.handleErr(w, err)
		return
	}
	metrics.RecordBuildOutcome(result.FastPath && !forced)
	h.writeJSON(w, http.StatusOK, buildResponse{
		FunctionCount:  funcs.Len(),
		FilesProcessed: result.FilesProcessed,
		FastPath:       result.FastPath,
	})
}

func (h *Handler) indexStatus(w http.ResponseWriter, r *http.Request) {
	directory := r.URL.Query().Get("directory")
	ext := r.URL.Query().Get("file_ext")
	st, ok := h.builder.State(directory, ext)
	if !ok {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"indexed": false})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"indexed":       true,
		"function_count": st.Funcs.Len(),
		"last_indexed":  st.LastIndexed,
	})
}

type searchRequest struct {
	Directory string `json:"directory"`
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
	FileExt   string `json:"file_ext"`
}

func (h *Handler) searchFunctions(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	hits, message, err := query.Search(r.Context(), h.builder, req.Directory, req.FileExt, req.Query, req.TopK)
	metrics.QueryLatency.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if err != nil {
		h.handleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"results": hits, "message": message})
}

func (h *Handler) getClassStats(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	groups, standalones, err := query.ClassStats(r.Context(), h.builder, req.Directory, req.FileExt, req.Query, req.TopK)
	metrics.QueryLatency.WithLabelValues("class_stats").Observe(time.Since(start).Seconds())
	if err != nil {
		h.handleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"classes": groups, "standalone": standalones})
}

type settingsResponse struct {
	BatchSize int `json:"batch_size"`
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, settingsResponse{BatchSize: h.encoder.BatchSize()})
}

type updateSettingsRequest struct {
	BatchSize *int `json:"batch_size"`
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BatchSize != nil {
		h.encoder.SetBatchSize(*req.BatchSize)
	}
	h.writeJSON(w, http.StatusOK, settingsResponse{BatchSize: h.encoder.BatchSize()})
}

type setBatchSizeRequest struct {
	BatchSize int `json:"batch_size"`
}

func (h *Handler) setBatchSize(w http.ResponseWriter, r *http.Request) {
	var req setBatchSizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.encoder.SetBatchSize(req.BatchSize)
	h.writeJSON(w, http.StatusOK, settingsResponse{BatchSize: h.encoder.BatchSize()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
