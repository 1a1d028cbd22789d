package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/snarg/vidsum/internal/pipeline"
)

// Error codes carried in ErrorResponse.Code.
const (
	ErrInvalidBody = "invalid_body"
	ErrBadRequest  = "bad_request"
	ErrTooLarge    = "too_large"
	ErrBusy        = "busy"
	ErrNotFound    = "not_found"
	ErrUnavailable = "unavailable"
	ErrRunFailed   = "run_failed"
	ErrRunCanceled = "canceled"
	ErrInternal    = "internal"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Stage  string `json:"stage,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// WriteErrorWithCode writes a JSON error response with a machine-readable code.
func WriteErrorWithCode(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// WritePipelineError maps a run error onto a status code and error body.
func WritePipelineError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrBusy) {
		WriteErrorWithCode(w, http.StatusConflict, ErrBusy, "A summarization is already running, try again when it finishes")
		return
	}

	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}

	status, code := http.StatusUnprocessableEntity, ErrRunFailed
	switch pe.Kind {
	case pipeline.KindInvalidInput:
		status, code = http.StatusBadRequest, ErrBadRequest
	case pipeline.KindDependency:
		status, code = http.StatusServiceUnavailable, ErrUnavailable
	case pipeline.KindCanceled:
		status, code = http.StatusRequestTimeout, ErrRunCanceled
	}

	resp := ErrorResponse{
		Error: pe.Message(),
		Code:  code,
		Kind:  string(pe.Kind),
		Stage: string(pe.Stage),
	}
	if pe.Err != nil {
		resp.Detail = pe.Err.Error()
	}
	WriteJSON(w, status, resp)
}

// QueryString extracts a non-empty string query parameter.
func QueryString(r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", false
	}
	return v, true
}

// ParseSentenceCount parses an optional sentence count form value.
// Empty means "use the default" and returns 0.
func ParseSentenceCount(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid sentence_count %q: must be an integer", v)
	}
	if n < pipeline.MinSentences || n > pipeline.MaxSentences {
		return 0, fmt.Errorf("invalid sentence_count %d: must be between %d and %d", n, pipeline.MinSentences, pipeline.MaxSentences)
	}
	return n, nil
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
