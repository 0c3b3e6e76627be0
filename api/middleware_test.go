package api

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestGzipRequestBody(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"name":"Todo"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	e := newTestServer(&mockBoard{}, &mockStream{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/section", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"name":"Todo"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestGzipRequestBodyInvalid(t *testing.T) {
	e := newTestServer(&mockBoard{}, &mockStream{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/section", strings.NewReader("plain"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestHasGzipEncoding(t *testing.T) {
	cases := map[string]bool{"": false, "gzip": true, "br, GZIP": true, "deflate": false}
	for header, want := range cases {
		if got := hasGzipEncoding(header); got != want {
			t.Fatalf("hasGzipEncoding(%q) = %v, want %v", header, got, want)
		}
	}
}
