package http

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

func TestBearerToken(t *testing.T) {
	tests := []struct{ header, want string }{
		{"Bearer abc123", "abc123"},
		{"bearer token123", "token123"},
		{"Bearer   token-with-spaces   ", "token-with-spaces"},
		{"", ""},
		{"token123", ""},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		if got := bearerToken(tt.header); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestGuard_StatusAndSubject(t *testing.T) {
	var seen *domain.AuthContext
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAuthContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}), authenticate(&mockAuthService{}), requirePermission(domain.PermissionManage))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"missing token", "", http.StatusUnauthorized, "missing authorization token"},
		{"expired token", "Bearer expired", http.StatusUnauthorized, "token expired"},
		{"invalid token", "Bearer garbage", http.StatusUnauthorized, "invalid token"},
		{"viewer lacks manage", "Bearer " + tokenViewer, http.StatusForbidden, string(domain.PermissionManage)},
		{"admin", "Bearer " + tokenAdmin, http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/api/v1/collections", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Errorf("expected body to contain %q, got %s", tt.wantBody, rr.Body.String())
			}
			if tt.wantStatus == http.StatusNoContent && (seen == nil || seen.Subject != "admin") {
				t.Errorf("expected admin auth context, got %+v", seen)
			}
		})
	}
}

func TestRequirePermission_WithoutAuthenticate(t *testing.T) {
	h := requirePermission(domain.PermissionView)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestGetAuthContext_Missing(t *testing.T) {
	if GetAuthContext(context.Background()) != nil {
		t.Error("expected nil auth context")
	}
	//nolint:staticcheck // nil context is handled explicitly
	if GetAuthContext(nil) != nil {
		t.Error("expected nil auth context for nil ctx")
	}
}

func TestRequestLogger_LogsRouteAndSubject(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/collections/{name}/reindex", chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) }),
		authenticate(&mockAuthService{}),
	))
	h := requestLogger(logger)(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/collections/pages/reindex", nil)
	req.Header.Set("Authorization", "Bearer "+tokenAdmin)
	req.Header.Set(RequestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("expected request id echoed, got %q", got)
	}
	out := buf.String()
	for _, want := range []string{
		"request_id=req-42",
		"status=202",
		`route="POST /api/v1/collections/{name}/reindex"`,
		"subject=admin",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log line: %s", want, out)
		}
	}
}

func TestRequestLogger_GeneratesID(t *testing.T) {
	var buf bytes.Buffer
	h := requestLogger(slog.New(slog.NewTextHandler(&buf, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestID(r.Context()) == "" {
			t.Error("expected request id in context")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/brew", nil))

	if len(rr.Header().Get(RequestIDHeader)) != 36 {
		t.Errorf("expected generated uuid, got %q", rr.Header().Get(RequestIDHeader))
	}
	if !strings.Contains(buf.String(), "status=418") {
		t.Errorf("unexpected log line: %s", buf.String())
	}
}

func TestRequestLogger_HealthChecksAtDebug(t *testing.T) {
	var buf bytes.Buffer
	h := requestLogger(slog.New(slog.NewTextHandler(&buf, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if buf.Len() != 0 {
		t.Errorf("expected health checks below info, got %s", buf.String())
	}
}

func TestRecoverer(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), recoverer(logger), requestLogger(logger))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("expected panic to be logged, got %s", buf.String())
	}
}
