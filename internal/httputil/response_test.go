package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/imu-logger/internal/monitoring"
)

func TestWriteJSONOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"sessions": 3})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("cache-control = %s, want no-store", cc)
	}
	if got, want := rec.Body.String(), "{\n  \"sessions\": 3\n}\n"; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestErrorResponses(t *testing.T) {
	monitoring.SetLogger(t.Logf)
	defer monitoring.SetLogger(nil)

	tests := []struct {
		name       string
		write      func(http.ResponseWriter)
		wantStatus int
		wantError  string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad id") }, http.StatusBadRequest, "bad id"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no session 4") }, http.StatusNotFound, "no session 4"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, errors.New("disk I/O error")) }, http.StatusInternalServerError, "disk I/O error"},
		{"method", func(w http.ResponseWriter) { MethodNotAllowed(w) }, http.StatusMethodNotAllowed, "method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			var got errorBody
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			want := errorBody{Error: tt.wantError, Status: tt.wantStatus}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestMethodNotAllowed_AllowHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, http.MethodGet, http.MethodHead)
	if got := rec.Header().Get("Allow"); got != "GET, HEAD" {
		t.Errorf("Allow = %q, want %q", got, "GET, HEAD")
	}
}

func TestQueryInt64(t *testing.T) {
	tests := []struct {
		query   string
		want    int64
		wantErr bool
		missing bool
	}{
		{query: "session=42", want: 42},
		{query: "session=-1", want: -1},
		{query: "", wantErr: true, missing: true},
		{query: "session=", wantErr: true, missing: true},
		{query: "session=abc", wantErr: true},
		{query: "session=1.5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/debug/trajectory?%s", tt.query), nil)
			got, err := QueryInt64(r, "session")
			if (err != nil) != tt.wantErr {
				t.Fatalf("QueryInt64() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrMissingParam) != tt.missing {
				t.Errorf("errors.Is(err, ErrMissingParam) = %v, want %v", !tt.missing, tt.missing)
			}
			if got != tt.want {
				t.Errorf("QueryInt64() = %d, want %d", got, tt.want)
			}
		})
	}
}
