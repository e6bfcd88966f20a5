package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/codegrok/internal/codegrok"
	"github.com/sha1n/codegrok/internal/config"
	"github.com/sha1n/codegrok/internal/index"
	"github.com/sha1n/codegrok/internal/metrics"
	"github.com/sha1n/codegrok/internal/scaffold"
)

// WelcomeMessage is returned by the root endpoint.
const WelcomeMessage = "Welcome to CodeGrok! Use /search or /generate to get started."

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

var errBadBody = errors.New("invalid request body")

// Operation names used in error details
const (
	opSearch   = "Search"
	opIndex    = "Indexing"
	opCrossRef = "Cross-reference"
	opGenerate = "Generation"
	opStatus   = "Status"
)

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit *int   `json:"limit"`
}

type crossRefRequest struct {
	Symbol string `json:"symbol"`
}

type crossRefResponse struct {
	References []string `json:"references"`
}

type generateRequest struct {
	ProjectType string `json:"project_type"`
	Name        string `json:"name"`
}

// StartHTTPServer serves until ctx is done, then shuts down gracefully
func StartHTTPServer(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening (HTTP)", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

// NewHTTPServer creates the HTTP server for the service
func NewHTTPServer(svc *codegrok.Service, mcpServer *mcp.Server, settings *config.Settings, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		Handler:           NewHandler(svc, mcpServer, settings, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler builds the routed, instrumented handler
func NewHandler(svc *codegrok.Service, mcpServer *mcp.Server, settings *config.Settings, logger *slog.Logger) http.Handler {
	h := &handlers{svc: svc, settings: settings, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("POST /search", h.search)
	mux.HandleFunc("POST /index", h.reindex)
	mux.HandleFunc("POST /crossref", h.crossRef)
	mux.HandleFunc("POST /generate", h.generate)
	mux.HandleFunc("GET /status", h.status)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", svc.Metrics().Handler())

	if mcpServer != nil {
		// Factory function returns the server instance for each request
		mux.Handle("/sse", mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
			return mcpServer
		}, nil))
	}

	return Chain(mux,
		RequestID(),
		Logging(logger),
		metrics.Middleware(svc.Metrics(), routeLabel),
		Recover(logger),
		Timeout(settings.Server.RequestTimeout, "/sse"),
	)
}

type handlers struct {
	svc      *codegrok.Service
	settings *config.Settings
	logger   *slog.Logger
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: WelcomeMessage})
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, opSearch, err)
		return
	}

	limit := config.DefaultSearchLimit
	if req.Limit != nil {
		limit = *req.Limit
	}

	results, err := h.svc.Search(r.Context(), req.Query, limit)
	if err != nil {
		h.fail(w, r, opSearch, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *handlers) reindex(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Reindex(r.Context())
	if err != nil {
		h.fail(w, r, opIndex, err)
		return
	}
	LoggerFromContext(r.Context(), h.logger).InfoContext(r.Context(), "Reindex requested",
		"indexed", stats.Indexed,
		"generation", stats.Generation)
	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Indexed %s successfully", h.settings.SourceRoot),
	})
}

func (h *handlers) crossRef(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" && r.ContentLength != 0 {
		var req crossRefRequest
		if err := decodeJSON(r, &req); err != nil {
			h.fail(w, r, opCrossRef, err)
			return
		}
		symbol = req.Symbol
	}

	refs, err := h.svc.CrossRef(r.Context(), symbol)
	if err != nil {
		h.fail(w, r, opCrossRef, err)
		return
	}
	writeJSON(w, http.StatusOK, crossRefResponse{References: refs})
}

func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, opGenerate, err)
		return
	}

	dir, err := h.svc.Generate(r.Context(), req.ProjectType, req.Name)
	if err != nil {
		h.fail(w, r, opGenerate, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Generated %s at %s", req.Name, dir),
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if errors.Is(err, index.ErrIndexNotFound) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "No index has been published yet"})
		return
	}
	if err != nil {
		h.fail(w, r, opStatus, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// fail logs err and writes it as {"detail": "<op> failed: <err>"}
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(op, err)
	logger := LoggerFromContext(r.Context(), h.logger)
	if code >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), op+" failed", "error", err)
	} else {
		logger.WarnContext(r.Context(), op+" rejected", "error", err)
	}
	writeJSON(w, code, errorResponse{Detail: fmt.Sprintf("%s failed: %s", op, err)})
}

// statusFor maps a failed operation to its HTTP status. Only scaffold requests
// report client errors; search, indexing and cross-reference failures are
// server errors whatever their cause.
func statusFor(op string, err error) int {
	if op != opGenerate {
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, errBadBody),
		errors.Is(err, codegrok.ErrInvalidRequest),
		errors.Is(err, scaffold.ErrUnsupportedTemplate),
		errors.Is(err, scaffold.ErrInvalidPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadBody, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
