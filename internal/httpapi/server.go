package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vetconsult/internal/audit"
	"vetconsult/internal/config"
	"vetconsult/internal/dispatch"
	"vetconsult/internal/model"
	"vetconsult/internal/pipeline"
	"vetconsult/internal/prompt"
	"vetconsult/internal/transcription"
	"vetconsult/internal/upstream/openai"

	"github.com/go-chi/chi/v5"
)

const (
	serviceName     = "vetconsult"
	genericFailure  = "An error occurred while processing the request."
	maxAuditEntries = 500
)

type DispatchService interface {
	Dispatch(ctx context.Context, in dispatch.Input) (dispatch.Result, error)
	Catalog() *prompt.Catalog
}

type TranscriptionService interface {
	Transcribe(ctx context.Context, file io.Reader, fileName, model string) (string, error)
}

type PipelineService interface {
	Process(ctx context.Context, in pipeline.ProcessInput) (pipeline.ProcessResult, error)
}

type UpstreamChecker interface {
	CheckModels(ctx context.Context) error
}

type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
}

type Dependencies struct {
	Dispatch       DispatchService
	Transcription  TranscriptionService
	Pipeline       PipelineService
	Upstream       UpstreamChecker
	Audit          AuditReader
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	dispatcher   DispatchService
	transcriber  TranscriptionService
	pipeline     PipelineService
	upstream     UpstreamChecker
	audit        AuditReader
	metrics      MetricsObserver
	metricsRoute http.Handler
	corsOrigins  map[string]struct{}
}

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Dispatch == nil || deps.Transcription == nil || deps.Pipeline == nil || deps.Upstream == nil {
		panic("httpapi: dispatch, transcription, pipeline and upstream dependencies are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		dispatcher:   deps.Dispatch,
		transcriber:  deps.Transcription,
		pipeline:     deps.Pipeline,
		upstream:     deps.Upstream,
		audit:        deps.Audit,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
		corsOrigins:  make(map[string]struct{}, len(cfg.CORSAllowedOrigins)),
	}
	for _, origin := range cfg.CORSAllowedOrigins {
		s.corsOrigins[origin] = struct{}{}
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.authMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	// Routes kept for clients of the earlier controller and function backends.
	r.Post("/api/transcription", s.handleTranscriptionAction)
	r.Post("/api/Transcription", s.handleTranscriptionAction)
	r.Post("/api/ConsultVetAIRequests", s.handleConsultRequest)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/actions", s.handleActions)
		r.Post("/consultations/analyze", s.handleAnalyze)
		r.Post("/consultations/process", s.handleProcess)
		r.Post("/transcriptions", s.handleTranscriptions)
		r.Get("/audit/recent", s.handleAuditRecent)
	})

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.APIKey == "" {
		writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: serviceName})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.upstream.CheckModels(ctx); err != nil {
		s.logger.Warn("readiness check failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		s.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "upstream check failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: serviceName})
}

func (s *server) handleActions(w http.ResponseWriter, r *http.Request) {
	actions := s.dispatcher.Catalog().Actions()
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}
	writeJSON(w, http.StatusOK, model.ActionsResponse{Actions: names})
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req model.TranscriptionRequest
	if !s.decodeJSON(w, r, &req, true) {
		return
	}

	result, err := s.dispatcher.Dispatch(r.Context(), dispatch.Input{
		Action:     req.Action,
		Transcript: req.Transcription,
		Model:      req.Model,
		RequestID:  requestIDFromContext(r.Context()),
	})
	if err != nil {
		s.writeMappedError(w, r, req.Action, err)
		return
	}

	writeJSON(w, http.StatusOK, model.AnalyzeResponse{
		Result: result.Content,
		Action: string(result.Action),
		Model:  result.Model,
		Cached: result.Cached,
		Usage:  toModelTokenUsage(result.Usage),
	})
}

func (s *server) handleTranscriptionAction(w http.ResponseWriter, r *http.Request) {
	var req model.TranscriptionRequest
	if !s.decodeJSON(w, r, &req, false) {
		return
	}

	result, err := s.dispatcher.Dispatch(r.Context(), dispatch.Input{
		Action:     req.Action,
		Transcript: req.Transcription,
		RequestID:  requestIDFromContext(r.Context()),
	})
	if err != nil {
		s.writeMappedError(w, r, req.Action, err)
		return
	}
	writeJSON(w, http.StatusOK, model.TranscriptionResult{Result: result.Content})
}

// handleConsultRequest answers in plain text, as the function backend did.
func (s *server) handleConsultRequest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	defer func() { _ = r.Body.Close() }()

	var req model.ConsultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeText(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.dispatcher.Dispatch(r.Context(), dispatch.Input{
		Action:     req.Operation,
		Transcript: req.Transcription,
		RequestID:  requestIDFromContext(r.Context()),
	})
	switch {
	case err == nil:
		writeText(w, http.StatusOK, result.Content)
	case errors.Is(err, prompt.ErrUnsupportedAction), errors.Is(err, dispatch.ErrEmptyTranscript):
		writeText(w, http.StatusBadRequest, err.Error())
	default:
		s.logDispatchError(r, req.Operation, err)
		writeText(w, http.StatusInternalServerError, genericFailure)
	}
}

func (s *server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	file, header, form, err := s.readMultipartAudio(w, r)
	if err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer cleanupMultipartForm(form)
	defer func() { _ = file.Close() }()

	text, err := s.transcriber.Transcribe(r.Context(), file, header.Filename, strings.TrimSpace(r.FormValue("model")))
	if err != nil {
		s.writeMappedError(w, r, "", err)
		return
	}

	writeJSON(w, http.StatusOK, model.TranscriptionResponse{Text: text})
}

func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	file, header, form, err := s.readMultipartAudio(w, r)
	if err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer cleanupMultipartForm(form)
	defer func() { _ = file.Close() }()

	action := strings.TrimSpace(r.FormValue("action"))
	result, err := s.pipeline.Process(r.Context(), pipeline.ProcessInput{
		File:               file,
		FileName:           header.Filename,
		Action:             action,
		TranscriptionModel: r.FormValue("transcription_model"),
		Model:              r.FormValue("model"),
		RequestID:          requestIDFromContext(r.Context()),
	})
	if err != nil {
		s.writeMappedError(w, r, action, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ProcessResponse{
		Transcript: result.Transcript,
		Result:     result.Analysis.Content,
		Action:     string(result.Analysis.Action),
		Model:      result.Analysis.Model,
		Cached:     result.Analysis.Cached,
		Usage:      toModelTokenUsage(result.Analysis.Usage),
		TimingsMS: model.ProcessTimings{
			Transcription: result.Timings.Transcription.Milliseconds(),
			Analysis:      result.Timings.Analysis.Milliseconds(),
			Total:         result.Timings.Total.Milliseconds(),
		},
	})
}

func (s *server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, r, http.StatusNotFound, "audit_disabled", "audit log is not configured", nil)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditEntries {
			s.writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Sprintf("limit must be between 1 and %d", maxAuditEntries), nil)
			return
		}
		limit = n
	}

	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("audit read failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", genericFailure, nil)
		return
	}

	out := model.AuditResponse{Entries: make([]model.AuditEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, model.AuditEntry{
			ID:          e.ID,
			RequestID:   e.RequestID,
			Action:      e.Action,
			Model:       e.Model,
			Status:      e.Status,
			LatencyMS:   e.LatencyMS,
			TotalTokens: e.TotalTokens,
			CreatedAt:   e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeJSON reads a single JSON value from the body. strict rejects unknown
// fields; the compatibility routes accept whatever the old clients sent.
func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any, strict bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	defer func() { _ = r.Body.Close() }()

	decoder := json.NewDecoder(r.Body)
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dst); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return false
	}
	if err := ensureBodyFullyConsumed(decoder); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return false
	}
	return true
}

func (s *server) readMultipartAudio(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, *multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(min(s.cfg.MaxUploadBytes, 8<<20)); err != nil {
		return nil, nil, nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, r.MultipartForm, err
	}
	return file, header, r.MultipartForm, nil
}

func (s *server) handleMultipartReadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", fmt.Sprintf("request exceeds %d bytes", s.cfg.MaxUploadBytes), nil)
		return
	}
	if errors.Is(err, http.ErrMissingFile) {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "multipart field 'file' is required", nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid multipart form data", nil)
}

func (s *server) handleJSONDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "JSON body too large", nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
}

// writeMappedError translates service errors into responses. Provider detail
// is logged, never returned.
func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, prompt.ErrUnsupportedAction):
		s.writeError(w, r, http.StatusBadRequest, "unsupported_operation", err.Error(), nil)
		return
	case errors.Is(err, dispatch.ErrEmptyTranscript):
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	case errors.Is(err, transcription.ErrEmptyTranscript):
		s.writeError(w, r, http.StatusUnprocessableEntity, "empty_transcript", err.Error(), nil)
		return
	}

	s.logDispatchError(r, action, err)

	status := http.StatusInternalServerError
	code := "internal_error"
	message := genericFailure

	var upstreamErr *openai.Error
	switch {
	case errors.As(err, &upstreamErr):
		status = http.StatusBadGateway
		code = "upstream_request_failed"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		code = "timeout"
		message = "request timed out"
	case errors.Is(err, context.Canceled):
		status = 499
		code = "canceled"
		message = "request canceled"
	}

	s.writeError(w, r, status, code, message, nil)
}

func (s *server) logDispatchError(r *http.Request, action string, err error) {
	attrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"subject", subjectFromContext(r.Context()),
		"action", action,
		"error", err,
	}
	var upstreamErr *openai.Error
	if errors.As(err, &upstreamErr) {
		attrs = append(attrs, "upstream_status", upstreamErr.StatusCode, "upstream_body", upstreamErr.Body)
	}
	s.logger.Error("request failed", attrs...)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:     model.APIError{Code: code, Message: message, Details: details},
		RequestID: requestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func ensureBodyFullyConsumed(decoder *json.Decoder) error {
	var extra any
	if err := decoder.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple JSON values")
		}
		return err
	}
	return nil
}

func cleanupMultipartForm(form *multipart.Form) {
	if form != nil {
		_ = form.RemoveAll()
	}
}

func toModelTokenUsage(u *dispatch.TokenUsage) *model.TokenUsage {
	if u == nil {
		return nil
	}
	return &model.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
