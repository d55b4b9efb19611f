// Package server exposes the record views over a local HTTP API for the dashboard front-end.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"recordscope/internal/annotation"
	"recordscope/internal/export"
	"recordscope/internal/filterstate"
	"recordscope/internal/query"
	"recordscope/internal/service"
	"recordscope/internal/types"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// HTTPServer implements the local REST API over the record views
type HTTPServer struct {
	config *types.Config
	svc    *service.ViewService
	server *http.Server

	// Server lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	runningMux sync.RWMutex

	// Statistics
	stats      HTTPServerStats
	statsMutex sync.RWMutex
}

// HTTPServerStats represents statistics about the HTTP server
type HTTPServerStats struct {
	RequestsHandled int64 `json:"requests_handled"`
	RequestErrors   int64 `json:"request_errors"`
	IsRunning       bool  `json:"is_running"`
}

// APIResponse represents a standard API response structure
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Services  map[string]interface{} `json:"services"`
}

// pageRequest is the body of POST /api/{kind}/page
type pageRequest struct {
	Page int `json:"page"`
}

// limitRequest is the body of POST /api/{kind}/limit
type limitRequest struct {
	Limit int `json:"limit"`
}

// annotationRequest is the body of POST /api/events/annotation/{action}
type annotationRequest struct {
	RecordID       int64  `json:"record_id"`
	X              int    `json:"x"`
	Y              int    `json:"y"`
	Message        string `json:"message"`
	Description    string `json:"description"`
	Classification string `json:"classification"`
}

// NewHTTPServer creates a new HTTP server instance
func NewHTTPServer(config *types.Config, svc *service.ViewService) *HTTPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPServer{
		config: config,
		svc:    svc,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.runningMux.Lock()
	defer s.runningMux.Unlock()

	if s.isRunning {
		return fmt.Errorf("HTTP server is already running")
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.isRunning = true
	s.updateStats(func(stats *HTTPServerStats) {
		stats.IsRunning = true
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Int("port", s.config.HTTPPort).Msg("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.runningMux.Lock()
	defer s.runningMux.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
	}
	s.wg.Wait()

	s.isRunning = false
	s.updateStats(func(stats *HTTPServerStats) {
		stats.IsRunning = false
	})
	log.Info().Msg("HTTP server stopped")
	return shutdownErr
}

// GetStats returns server statistics
func (s *HTTPServer) GetStats() HTTPServerStats {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	return s.stats
}

// Handler returns the routed API handler
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return s.countRequests(mux)
}

// setupRoutes configures all HTTP routes
func (s *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Record views
	mux.HandleFunc("GET /api/{kind}/records", s.withView(s.handleRecords))
	mux.HandleFunc("GET /api/{kind}/filters", s.withView(s.handleGetFilters))
	mux.HandleFunc("PUT /api/{kind}/filters", s.withView(s.handlePutFilters))
	mux.HandleFunc("DELETE /api/{kind}/filters", s.withView(s.handleClearFilters))
	mux.HandleFunc("POST /api/{kind}/page", s.withView(s.handlePage))
	mux.HandleFunc("POST /api/{kind}/limit", s.withView(s.handleLimit))
	mux.HandleFunc("POST /api/{kind}/refresh", s.withView(s.handleRefresh))
	mux.HandleFunc("GET /api/{kind}/options", s.withView(s.handleOptions))
	mux.HandleFunc("GET /api/{kind}/export", s.withView(s.handleExport))

	// Event comments
	mux.HandleFunc("GET /api/events/{id}/comments", s.handleComments)
	mux.HandleFunc("GET /api/events/{id}/comments/export", s.handleCommentsExport)
	mux.HandleFunc("GET /api/events/annotation", s.handleAnnotation)
	mux.HandleFunc("POST /api/events/annotation/{action}", s.handleAnnotationAction)
}

// countRequests counts every request routed by the server
func (s *HTTPServer) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.updateStats(func(stats *HTTPServerStats) {
			stats.RequestsHandled++
		})
		next.ServeHTTP(w, r)
	})
}

type viewHandler func(w http.ResponseWriter, r *http.Request, view *service.RecordView)

// withView resolves the {kind} path segment to its record view
func (s *HTTPServer) withView(next viewHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.svc.View(types.RecordKind(r.PathValue("kind")))
		if err != nil {
			s.sendErrorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		next(w, r, view)
	}
}

// handleHealth handles the health check endpoint
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !s.svc.Status().Connected {
		status = "degraded"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   getVersion(),
		Services: map[string]interface{}{
			"view_service": s.svc.GetStats(),
			"http_server":  s.GetStats(),
		},
	}

	s.sendJSONResponse(w, http.StatusOK, response)
}

// handleStatus reports the Query Service connection indicator
func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    s.svc.Status(),
	})
}

func (s *HTTPServer) handleRecords(w http.ResponseWriter, r *http.Request, view *service.RecordView) {
	snap := view.Snapshot()
	s.sendJSONResponse(w, http.StatusOK, APIResponse{
		Success: snap.Error == "",
		Data:    snap,
		Error:   snap.Error,
	})
}

func (s *HTTPServer) handleGetFilters(w http.ResponseWriter, r *http.Request, view *service.RecordView) {
	s.sendJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    view.Filters(),
	})
}

func (s *HTTPServer) handlePutFilters(w http.ResponseWriter, r *http.Request, view *service.RecordView) {
	var edit filterstate.Edit
	if err := s.decodeBody(w, r, &edit); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	patch, err := edit.ToPatch()
	if err != nil {
		s.sendOperationError(w, err)
		return
	}
	s.sendViewResult(w, view, view.ApplyFilters(r.Context(), patch))
}

func (s *HTTPServer) handleClearFilters(w http.ResponseWriter, r *http.Request, view *service.RecordView) {
	s.sendViewResult(w, view, view.ClearFilters(r.Context()))
}

func (s *HTTPServer) handlePage(w http.ResponseWriter, r *http.Request, view *service.RecordView) {
	var req pageRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	_, err := view.ChangePage(r.Context(), req.Page)
	s.sendViewResult(w, view, err)
}

func (s *HTTPServer) handleLimit(w http.ResponseWriter, r *http.Request, view *service.RecordView) {
	var req limitRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	_, err := view.ChangeLimit(r.Context(), req.Limit)
	s.sendViewResult(w, view, err)
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request, view *service.RecordView) {
	s.sendViewResult(w, view, view.Refresh(r.Context()))
}

func (s *HTTPServer) handleOptions(w http.ResponseWriter, r *http.Request, view *service.RecordView) {
	opts, err := view.Options(r.Context())
	if err != nil {
		s.sendOperationError(w, err)
		return
	}
	s.sendJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    opts,
	})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, view *service.RecordView) {
	file, err := view.Export(r.Context())
	if err != nil {
		s.sendOperationError(w, err)
		return
	}
	s.deliver(w, file)
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request) {
	view, id, ok := s.eventTarget(w, r)
	if !ok {
		return
	}
	comments, err := view.Comments(r.Context(), id)
	if err != nil {
		s.sendOperationError(w, err)
		return
	}
	if comments == nil {
		comments = []types.Comment{}
	}
	s.sendJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    comments,
	})
}

func (s *HTTPServer) handleCommentsExport(w http.ResponseWriter, r *http.Request) {
	view, id, ok := s.eventTarget(w, r)
	if !ok {
		return
	}
	file, err := view.ExportComments(r.Context(), id)
	if err != nil {
		s.sendOperationError(w, err)
		return
	}
	s.deliver(w, file)
}

func (s *HTTPServer) handleAnnotation(w http.ResponseWriter, r *http.Request) {
	workflow, ok := s.annotations(w)
	if !ok {
		return
	}
	s.sendJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    workflow.Snapshot(),
	})
}

func (s *HTTPServer) handleAnnotationAction(w http.ResponseWriter, r *http.Request) {
	workflow, ok := s.annotations(w)
	if !ok {
		return
	}

	var req annotationRequest
	if r.ContentLength != 0 {
		if err := s.decodeBody(w, r, &req); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var err error
	action := r.PathValue("action")
	switch action {
	case "context-menu":
		err = workflow.OpenContextMenu(req.RecordID, annotation.Point{X: req.X, Y: req.Y})
	case "add-comment":
		err = workflow.AddComment()
	case "submit":
		err = workflow.Submit(r.Context(), types.CommentDraft{
			Message:        req.Message,
			Description:    req.Description,
			Classification: req.Classification,
		})
	case "escape":
		err = workflow.Escape()
	case "outside-click":
		err = workflow.OutsideClick()
	case "view-comments":
		err = workflow.ViewComments(r.Context(), req.RecordID)
	case "close-comments":
		err = workflow.CloseComments()
	default:
		s.sendErrorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown annotation action %q", action))
		return
	}

	snap := workflow.Snapshot()

	// Back in idle after submit means the comment was stored and only the refresh failed
	if action == "submit" && snap.State == annotation.StateIdle {
		var queryErr *types.QueryError
		switch {
		case errors.Is(err, query.ErrSuperseded):
			err = nil
		case errors.As(err, &queryErr):
			s.updateStats(func(stats *HTTPServerStats) {
				stats.RequestErrors++
			})
			s.sendJSONResponse(w, http.StatusOK, APIResponse{
				Success: false,
				Data:    snap,
				Error:   queryErr.Message,
			})
			return
		}
	}

	if err != nil {
		s.updateStats(func(stats *HTTPServerStats) {
			stats.RequestErrors++
		})
		s.sendJSONResponse(w, errorStatus(err), APIResponse{
			Success: false,
			Data:    snap,
			Error:   types.DisplayMessage(err),
		})
		return
	}
	s.sendJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    snap,
	})
}

// eventTarget resolves the events view and the {id} path segment
func (s *HTTPServer) eventTarget(w http.ResponseWriter, r *http.Request) (*service.RecordView, int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.sendErrorResponse(w, http.StatusBadRequest, "invalid event id")
		return nil, 0, false
	}
	view, err := s.svc.View(types.KindEvents)
	if err != nil {
		s.sendErrorResponse(w, http.StatusNotFound, err.Error())
		return nil, 0, false
	}
	return view, id, true
}

func (s *HTTPServer) annotations(w http.ResponseWriter) (*annotation.Workflow, bool) {
	view, err := s.svc.View(types.KindEvents)
	if err != nil || view.Annotations() == nil {
		s.sendErrorResponse(w, http.StatusNotFound, "annotations are not available")
		return nil, false
	}
	return view.Annotations(), true
}

// deliver streams an export as a CSV attachment
func (s *HTTPServer) deliver(w http.ResponseWriter, file *export.File) {
	if _, err := (export.HTTPSink{W: w}).Deliver(file); err != nil {
		log.Warn().Err(err).Str("file", file.Name).Msg("failed to deliver export")
		s.updateStats(func(stats *HTTPServerStats) {
			stats.RequestErrors++
		})
	}
}

// decodeBody decodes a bounded JSON request body into v
func (s *HTTPServer) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// sendViewResult answers a view operation with the view snapshot. A failed
// query is a display error: the snapshot carries the empty page and the message.
func (s *HTTPServer) sendViewResult(w http.ResponseWriter, view *service.RecordView, err error) {
	if errors.Is(err, query.ErrSuperseded) {
		err = nil
	}

	var queryErr *types.QueryError
	switch {
	case err == nil:
		s.sendJSONResponse(w, http.StatusOK, APIResponse{
			Success: true,
			Data:    view.Snapshot(),
		})
	case errors.As(err, &queryErr):
		s.updateStats(func(stats *HTTPServerStats) {
			stats.RequestErrors++
		})
		s.sendJSONResponse(w, http.StatusOK, APIResponse{
			Success: false,
			Data:    view.Snapshot(),
			Error:   queryErr.Message,
		})
	default:
		s.sendOperationError(w, err)
	}
}

// sendOperationError maps a domain error to its HTTP status
func (s *HTTPServer) sendOperationError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Warn().Err(err).Int("status", status).Msg("API operation failed")
	}
	s.sendErrorResponse(w, status, types.DisplayMessage(err))
}

func errorStatus(err error) int {
	var (
		validationErr *types.ValidationError
		exportErr     *types.ExportError
		queryErr      *types.QueryError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, annotation.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &exportErr) && exportErr.Message == types.MsgNoDataToExport:
		return http.StatusNotFound
	case errors.As(err, &queryErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// sendJSONResponse sends a JSON response
func (s *HTTPServer) sendJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("error encoding JSON response")
		s.updateStats(func(stats *HTTPServerStats) {
			stats.RequestErrors++
		})
	}
}

// sendErrorResponse sends an error response
func (s *HTTPServer) sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.updateStats(func(stats *HTTPServerStats) {
		stats.RequestErrors++
	})

	s.sendJSONResponse(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// updateStats safely updates the server statistics
func (s *HTTPServer) updateStats(updateFunc func(*HTTPServerStats)) {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()
	updateFunc(&s.stats)
}

// getVersion returns the application version (placeholder for build-time injection)
func getVersion() string {
	return "1.0.0"
}
