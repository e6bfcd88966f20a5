package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sha1n/codegrok/internal/codegrok"
	"github.com/sha1n/codegrok/internal/config"
	"github.com/sha1n/codegrok/internal/crossref"
	"github.com/sha1n/codegrok/internal/metrics"
	"github.com/sha1n/codegrok/internal/query"
	"github.com/sha1n/codegrok/internal/scaffold"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	base := t.TempDir()
	src := filepath.Join(base, "src")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatalf("Failed to create source root: %v", err)
	}
	return &config.Settings{
		Host:       "127.0.0.1",
		Port:       8000,
		SourceRoot: src,
		IndexDir:   filepath.Join(base, "index"),
		CtagsPath:  "ctags",
		Log:        config.LogSettings{Level: "info", Format: "text"},
		Server:     config.ServerSettings{RequestTimeout: time.Minute},
		Search: config.SearchSettings{
			DefaultLimit:         10,
			MaxLimit:             100,
			CacheSize:            16,
			SnippetStyle:         config.SnippetStyleHTML,
			SnippetFallbackChars: 200,
		},
		Ingest: config.IngestSettings{
			Policy:        config.PolicyFull,
			Workers:       2,
			BatchSize:     10,
			LockTimeout:   5 * time.Second,
			WatchDebounce: 50 * time.Millisecond,
		},
		CrossRef: config.CrossRefSettings{Timeout: 5 * time.Second},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	settings *config.Settings
	service  *codegrok.Service
	executor *crossref.MockExecutor
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	settings := testSettings(t)
	executor := crossref.NewMockExecutor()
	svc, err := codegrok.NewService(settings,
		codegrok.WithLogger(discardLogger()),
		codegrok.WithMetrics(metrics.New()),
		codegrok.WithExecutor(executor))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := svc.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return &testServer{
		settings: settings,
		service:  svc,
		executor: executor,
		handler:  NewHandler(svc, newMCPServer(svc, "test"), settings, discardLogger()),
	}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) writeSource(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(ts.settings.SourceRoot, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandler_Root(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	resp := decodeBody[messageResponse](t, rec)
	if resp.Message != WelcomeMessage {
		t.Errorf("Unexpected message: %q", resp.Message)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}
}

func TestHandler_UnknownPath(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/search", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestHandler_IndexThenSearch(t *testing.T) {
	ts := newTestServer(t)
	ts.writeSource(t, "a.py", "def hello(): pass\n")
	ts.writeSource(t, "b.txt", "hello\n")

	rec := ts.do(t, http.MethodPost, "/index", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /index, got %d: %s", rec.Code, rec.Body.String())
	}
	msg := decodeBody[messageResponse](t, rec)
	want := "Indexed " + ts.settings.SourceRoot + " successfully"
	if msg.Message != want {
		t.Errorf("Expected %q, got %q", want, msg.Message)
	}

	rec = ts.do(t, http.MethodPost, "/search", `{"query": "hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /search, got %d: %s", rec.Code, rec.Body.String())
	}
	results := decodeBody[[]query.Result](t, rec)
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d: %+v", len(results), results)
	}
	if filepath.Base(results[0].Path) != "a.py" {
		t.Errorf("Expected a.py, got %s", results[0].Path)
	}
	if results[0].Language != "python" {
		t.Errorf("Expected python, got %s", results[0].Language)
	}
	if !strings.Contains(results[0].Snippet, "<mark>hello</mark>") {
		t.Errorf("Expected highlighted snippet, got %q", results[0].Snippet)
	}
}

func TestHandler_SearchLimit(t *testing.T) {
	ts := newTestServer(t)
	for _, name := range []string{"a.py", "b.py", "c.py"} {
		ts.writeSource(t, name, "widget = 1\n")
	}
	if _, err := ts.service.Reindex(t.Context()); err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}

	rec := ts.do(t, http.MethodPost, "/search", `{"query": "widget", "limit": 2}`)
	results := decodeBody[[]query.Result](t, rec)
	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}

	rec = ts.do(t, http.MethodPost, "/search", `{"query": "nothingmatches"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("Expected empty array, got %s", body)
	}
}

func TestHandler_SearchErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantDetail string
	}{
		{"malformed body", `{"query":`, http.StatusInternalServerError, "Search failed"},
		{"empty query", `{"query": ""}`, http.StatusInternalServerError, "Search failed"},
		{"syntax error", `{"query": "(hello"}`, http.StatusInternalServerError, "Search failed: query syntax error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/search", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			resp := decodeBody[errorResponse](t, rec)
			if !strings.HasPrefix(resp.Detail, tt.wantDetail) {
				t.Errorf("Expected detail starting with %q, got %q", tt.wantDetail, resp.Detail)
			}
		})
	}
}

func TestHandler_IndexFailure(t *testing.T) {
	ts := newTestServer(t)
	if err := os.RemoveAll(ts.settings.SourceRoot); err != nil {
		t.Fatalf("Failed to remove source root: %v", err)
	}

	rec := ts.do(t, http.MethodPost, "/index", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	resp := decodeBody[errorResponse](t, rec)
	if !strings.HasPrefix(resp.Detail, "Indexing failed") {
		t.Errorf("Unexpected detail: %q", resp.Detail)
	}
}

func TestHandler_CrossRef(t *testing.T) {
	ts := newTestServer(t)
	line := `{"_type": "tag", "name": "hello", "path": "a.py", "line": 1, "kind": "function"}`
	ts.executor.AddStickyResponse("ctags", []byte(line+"\n"+`{"_type": "tag", "name": "other", "path": "b.py", "line": 2}`+"\n"), nil)

	for _, tc := range []struct{ name, target, body string }{
		{"query parameter", "/crossref?symbol=hello", ""},
		{"json body", "/crossref", `{"symbol": "hello"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tc.target, tc.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			resp := decodeBody[crossRefResponse](t, rec)
			if len(resp.References) != 1 || resp.References[0] != line {
				t.Errorf("Unexpected references: %v", resp.References)
			}
		})
	}
}

func TestHandler_CrossRefErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/crossref", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for missing symbol, got %d", rec.Code)
	}
	if len(ts.executor.GetCalls()) != 0 {
		t.Error("Expected the tagger not to run without a symbol")
	}

	ts.executor.AddResponse("ctags", nil, io.ErrUnexpectedEOF)
	rec = ts.do(t, http.MethodPost, "/crossref?symbol=hello", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500 for tagger failure, got %d", rec.Code)
	}
	resp := decodeBody[errorResponse](t, rec)
	if !strings.HasPrefix(resp.Detail, "Cross-reference failed") {
		t.Errorf("Unexpected detail: %q", resp.Detail)
	}
}

func TestHandler_Generate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/generate", `{"project_type": "react-flask", "name": "demo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	dir := filepath.Join(ts.settings.SourceRoot, "demo")
	resp := decodeBody[messageResponse](t, rec)
	if resp.Message != "Generated demo at "+dir {
		t.Errorf("Unexpected message: %q", resp.Message)
	}
	if _, err := os.Stat(filepath.Join(dir, "backend", "app.py")); err != nil {
		t.Errorf("Expected backend/app.py: %v", err)
	}
}

func TestHandler_GenerateRejects(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown template", `{"project_type": "cobol-cics", "name": "demo"}`},
		{"path escape", `{"project_type": "react-flask", "name": "../evil"}`},
		{"missing type", `{"name": "demo"}`},
		{"malformed body", `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/generate", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			resp := decodeBody[errorResponse](t, rec)
			if !strings.HasPrefix(resp.Detail, "Generation failed") {
				t.Errorf("Unexpected detail: %q", resp.Detail)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(ts.settings.SourceRoot), "evil")); !os.IsNotExist(err) {
		t.Errorf("Expected nothing written outside the source root, stat err: %v", err)
	}
}

func TestHandler_Status(t *testing.T) {
	ts := newTestServer(t)
	ts.writeSource(t, "a.py", "x = 1\n")

	before := ts.do(t, http.MethodGet, "/status", "")
	if before.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", before.Code, before.Body.String())
	}

	if _, err := ts.service.Reindex(t.Context()); err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
	rec := ts.do(t, http.MethodGet, "/status", "")
	status := decodeBody[codegrok.Status](t, rec)
	if status.DocumentCount != 1 {
		t.Errorf("Expected 1 document, got %d", status.DocumentCount)
	}
	if status.SourceRoot != ts.settings.SourceRoot {
		t.Errorf("Expected source root %s, got %s", ts.settings.SourceRoot, status.SourceRoot)
	}
}

func TestHandler_StatusWithoutIndex(t *testing.T) {
	settings := testSettings(t)
	svc, err := codegrok.NewService(settings, codegrok.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	h := NewHandler(svc, nil, settings, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("Unexpected health response: %d %q", rec.Code, rec.Body.String())
	}

	ts.do(t, http.MethodGet, "/", "")
	rec = ts.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"codegrok_http_requests_total", `route="/"`, "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in metrics output", want)
		}
	}
}

func TestHandler_RequestID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("Expected echoed request id, got %q", got)
	}
}

func TestHandler_LogsRequestID(t *testing.T) {
	settings := testSettings(t)
	svc, err := codegrok.NewService(settings, codegrok.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	var buf bytes.Buffer
	h := NewHandler(svc, nil, settings, slog.New(slog.NewTextHandler(&buf, nil)))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "trace-me")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "request_id=trace-me") {
		t.Errorf("Expected request id in log output, got: %s", buf.String())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		op   string
		err  error
		want int
	}{
		{"search syntax error", opSearch, query.ErrQuerySyntax, http.StatusInternalServerError},
		{"search bad body", opSearch, errBadBody, http.StatusInternalServerError},
		{"empty symbol", opCrossRef, crossref.ErrEmptySymbol, http.StatusInternalServerError},
		{"indexing failure", opIndex, io.EOF, http.StatusInternalServerError},
		{"unsupported template", opGenerate, scaffold.ErrUnsupportedTemplate, http.StatusBadRequest},
		{"unsafe path", opGenerate, scaffold.ErrInvalidPath, http.StatusBadRequest},
		{"generate bad body", opGenerate, errBadBody, http.StatusBadRequest},
		{"generate missing type", opGenerate, codegrok.ErrInvalidRequest, http.StatusBadRequest},
		{"generate write failure", opGenerate, io.ErrShortWrite, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.op, tt.err); got != tt.want {
				t.Errorf("statusFor(%s, %v) = %d, want %d", tt.op, tt.err, got, tt.want)
			}
		})
	}
}

func TestNewHTTPServer(t *testing.T) {
	ts := newTestServer(t)

	srv := NewHTTPServer(ts.service, nil, ts.settings, discardLogger())
	if srv.Addr != "127.0.0.1:8000" {
		t.Errorf("Expected addr 127.0.0.1:8000, got %s", srv.Addr)
	}
	if srv.Handler == nil {
		t.Error("Expected a handler")
	}
}

func TestStartHTTPServer_Shutdown(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() {
		done <- StartHTTPServer(ctx, srv, discardLogger())
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down")
	}
}

func TestStartHTTPServer_ListenError(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:-1", Handler: http.NotFoundHandler()}

	if err := StartHTTPServer(t.Context(), srv, discardLogger()); err == nil {
		t.Error("Expected listen error")
	}
}
