package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snarg/vidsum/internal/pipeline"
)

// ── QueryString ──────────────────────────────────────────────────────

func TestQueryString(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?q=hello", nil)
		v, ok := QueryString(req, "q")
		if !ok || v != "hello" {
			t.Errorf("got (%q, %v), want (\"hello\", true)", v, ok)
		}
	})
	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		_, ok := QueryString(req, "q")
		if ok {
			t.Error("expected ok=false")
		}
	})
}

// ── WriteJSON ────────────────────────────────────────────────────────

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"msg": "ok"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body["msg"] != "ok" {
		t.Errorf("body = %v, want msg=ok", body)
	}
}

// ── WriteError ───────────────────────────────────────────────────────

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad input")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "bad input" {
		t.Errorf("Error = %q, want %q", body.Error, "bad input")
	}
}

// ── DecodeJSON ───────────────────────────────────────────────────────

func TestDecodeJSON(t *testing.T) {
	t.Run("valid_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"test"}`))
		var dst struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(req, &dst); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dst.Name != "test" {
			t.Errorf("Name = %q, want %q", dst.Name, "test")
		}
	})
	t.Run("nil_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Body = nil
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for nil body")
		}
	})
	t.Run("malformed_json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{bad`))
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
}

// ── WriteErrorDetail ─────────────────────────────────────────────────

func TestWriteErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorDetail(rec, http.StatusUnprocessableEntity, "validation failed", "name is required")

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "validation failed" {
		t.Errorf("Error = %q, want %q", body.Error, "validation failed")
	}
	if body.Detail != "name is required" {
		t.Errorf("Detail = %q, want %q", body.Detail, "name is required")
	}
}

// ── WritePipelineError ───────────────────────────────────────────────

func TestWritePipelineError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantKind   string
	}{
		{"busy", pipeline.ErrBusy, http.StatusConflict, ErrBusy, ""},
		{"invalid_input", &pipeline.Error{Kind: pipeline.KindInvalidInput, Stage: pipeline.StateIdle, Err: errors.New("please enter a video URL")}, http.StatusBadRequest, ErrBadRequest, "InvalidInput"},
		{"dependency", &pipeline.Error{Kind: pipeline.KindDependency, Stage: pipeline.StateAcquiring, Err: errors.New("yt-dlp missing")}, http.StatusServiceUnavailable, ErrUnavailable, "DependencyUnavailable"},
		{"acquisition", &pipeline.Error{Kind: pipeline.KindAcquisition, Stage: pipeline.StateAcquiring, Err: errors.New("unreachable")}, http.StatusUnprocessableEntity, ErrRunFailed, "AcquisitionFailed"},
		{"transcription", &pipeline.Error{Kind: pipeline.KindTranscription, Stage: pipeline.StateTranscribing}, http.StatusUnprocessableEntity, ErrRunFailed, "TranscriptionFailed"},
		{"canceled", &pipeline.Error{Kind: pipeline.KindCanceled, Stage: pipeline.StateSummarizing, Err: context.Canceled}, http.StatusRequestTimeout, ErrRunCanceled, "Canceled"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, ErrInternal, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WritePipelineError(rec, tt.err)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("JSON decode: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", body.Kind, tt.wantKind)
			}
			if body.Error == "" {
				t.Error("expected non-empty error message")
			}
		})
	}
}

// ── ParseSentenceCount ───────────────────────────────────────────────

func TestParseSentenceCount(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"1", 1, false},
		{"10", 10, false},
		{"0", 0, true},
		{"11", 0, true},
		{"three", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSentenceCount(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSentenceCount(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseSentenceCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
