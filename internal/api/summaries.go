package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/vidsum/internal/acquire"
	"github.com/snarg/vidsum/internal/pipeline"
)

// Runner starts pipeline runs. *pipeline.Orchestrator implements it.
type Runner interface {
	TryRun(ctx context.Context, src acquire.Source, opts pipeline.RunOptions) (*pipeline.Result, error)
}

// SummariesHandler starts runs from a URL or an uploaded file.
type SummariesHandler struct {
	runner      Runner
	maxUploadMB int64
	log         zerolog.Logger
}

// NewSummariesHandler creates a new summaries handler.
func NewSummariesHandler(runner Runner, maxUploadMB int64, log zerolog.Logger) *SummariesHandler {
	return &SummariesHandler{
		runner:      runner,
		maxUploadMB: maxUploadMB,
		log:         log.With().Str("handler", "summaries").Logger(),
	}
}

// Routes registers the run endpoints.
func (h *SummariesHandler) Routes(r chi.Router) {
	r.Post("/summaries/url", h.FromURL)
	r.Post("/summaries/upload", h.FromUpload)
}

type urlRequest struct {
	URL           string `json:"url"`
	SentenceCount int    `json:"sentence_count"`
}

type runResponse struct {
	State         pipeline.State `json:"state"`
	RunID         string         `json:"run_id"`
	Summary       string         `json:"summary"`
	SentenceCount int            `json:"sentence_count"`
	ElapsedMs     int64          `json:"elapsed_ms"`
}

func newRunResponse(res *pipeline.Result) runResponse {
	return runResponse{
		State:         pipeline.StateDone,
		RunID:         res.RunID,
		Summary:       res.Summary,
		SentenceCount: res.Sentences,
		ElapsedMs:     res.Elapsed.Milliseconds(),
	}
}

// FromURL handles POST /api/v1/summaries/url.
func (h *SummariesHandler) FromURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid JSON body: "+err.Error())
		return
	}

	res, err := h.runner.TryRun(r.Context(), acquire.RemoteURL(req.URL), pipeline.RunOptions{
		SentenceCount: req.SentenceCount,
		Trigger:       "http",
	})
	if err != nil {
		WritePipelineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newRunResponse(res))
}

// FromUpload handles POST /api/v1/summaries/upload.
// Multipart form: "file" (mp3, mp4, wav, m4a) and optional "sentence_count".
func (h *SummariesHandler) FromUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadMB<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorWithCode(w, http.StatusRequestEntityTooLarge, ErrTooLarge, "upload exceeds MAX_UPLOAD_MB")
			return
		}
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	count, err := ParseSentenceCount(r.FormValue("sentence_count"))
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "missing \"file\" upload field")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	h.log.Debug().Str("filename", header.Filename).Int("bytes", len(data)).Msg("upload received")

	res, err := h.runner.TryRun(r.Context(), acquire.UploadFile(header.Filename, data), pipeline.RunOptions{
		SentenceCount: count,
		Trigger:       "http",
	})
	if err != nil {
		WritePipelineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newRunResponse(res))
}
