package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteProblem(t *testing.T) {
	w := httptest.NewRecorder()

	WriteProblem(w, Problem{
		Type:     ProblemTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   "host nas.lan not found",
		Instance: "/api/v1/hosts/nas.lan",
	})

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content-type = %q, want %q", ct, "application/problem+json")
	}

	var p Problem
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if p.Type != ProblemTypeNotFound {
		t.Errorf("type = %q, want %q", p.Type, ProblemTypeNotFound)
	}
	if p.Title != "Not Found" {
		t.Errorf("title = %q, want %q", p.Title, "Not Found")
	}
	if p.Status != 404 {
		t.Errorf("status = %d, want 404", p.Status)
	}
	if p.Detail != "host nas.lan not found" {
		t.Errorf("detail = %q, want %q", p.Detail, "host nas.lan not found")
	}
	if p.Instance != "/api/v1/hosts/nas.lan" {
		t.Errorf("instance = %q, want %q", p.Instance, "/api/v1/hosts/nas.lan")
	}
}

func TestProblemHelpers(t *testing.T) {
	tests := []struct {
		name       string
		write      func(http.ResponseWriter, string, string)
		wantStatus int
		wantType   string
	}{
		{"not found", NotFound, http.StatusNotFound, ProblemTypeNotFound},
		{"bad request", BadRequest, http.StatusBadRequest, ProblemTypeBadRequest},
		{"internal", InternalError, http.StatusInternalServerError, ProblemTypeInternal},
		{"rate limited", RateLimited, http.StatusTooManyRequests, ProblemTypeRateLimited},
		{"unprocessable", Unprocessable, http.StatusUnprocessableEntity, ProblemTypeUnprocessable},
		{"unavailable", Unavailable, http.StatusServiceUnavailable, ProblemTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, "detail", "/test")

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var p Problem
			if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if p.Type != tt.wantType {
				t.Errorf("type = %q, want %q", p.Type, tt.wantType)
			}
			if p.Status != tt.wantStatus {
				t.Errorf("body status = %d, want %d", p.Status, tt.wantStatus)
			}
		})
	}
}

func TestWriteProblem_OmitsEmptyOptionalFields(t *testing.T) {
	w := httptest.NewRecorder()

	WriteProblem(w, Problem{
		Type:   ProblemTypeInternal,
		Title:  "Internal Server Error",
		Status: 500,
	})

	var raw map[string]interface{}
	json.NewDecoder(w.Body).Decode(&raw)

	if _, ok := raw["detail"]; ok {
		t.Error("expected detail to be omitted when empty")
	}
	if _, ok := raw["instance"]; ok {
		t.Error("expected instance to be omitted when empty")
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, map[string]string{"ok": "yes"})

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}
}
