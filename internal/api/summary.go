package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/gomutex/godocx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/vidsum/internal/pipeline"
	"github.com/snarg/vidsum/internal/tempfile"
)

const (
	docxName = "video_summary.docx"
	docxType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	docxFont = "Times New Roman"
)

// SummaryHandler serves the current summary slot.
type SummaryHandler struct {
	slot    *pipeline.Slot
	urlFor  func(r *http.Request) string
	tempDir string
	log     zerolog.Logger
}

// NewSummaryHandler creates a handler for the summary slot. urlFor may be
// nil; when set it returns a direct artifact link ("" if none).
func NewSummaryHandler(slot *pipeline.Slot, urlFor func(r *http.Request) string, tempDir string, log zerolog.Logger) *SummaryHandler {
	return &SummaryHandler{
		slot:    slot,
		urlFor:  urlFor,
		tempDir: tempDir,
		log:     log.With().Str("handler", "summary").Logger(),
	}
}

// Routes registers the summary endpoints.
func (h *SummaryHandler) Routes(r chi.Router) {
	r.Get("/summary", h.Get)
	r.Get("/summary/download", h.Download)
}

type summaryResponse struct {
	pipeline.Snapshot
	ArtifactURL string `json:"artifact_url,omitempty"`
}

// Get handles GET /api/v1/summary.
func (h *SummaryHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := summaryResponse{Snapshot: h.slot.Get()}
	if resp.Set && h.urlFor != nil {
		resp.ArtifactURL = h.urlFor(r)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Download handles GET /api/v1/summary/download[?format=txt|docx].
// The text body is exactly the summary string.
func (h *SummaryHandler) Download(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.slot.Summary()
	if !ok {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "no summary available")
		return
	}

	format, _ := QueryString(r, "format")
	switch format {
	case "", "txt":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+pipeline.ArtifactName+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(summary))
	case "docx":
		h.downloadDocx(w, r, summary)
	default:
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "format must be txt or docx")
	}
}

func (h *SummaryHandler) downloadDocx(w http.ResponseWriter, r *http.Request, summary string) {
	err := tempfile.With(h.tempDir, ".docx", func(f *tempfile.File) error {
		if err := renderDocx(summary, f.Path()); err != nil {
			return err
		}
		data, err := os.ReadFile(f.Path())
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", docxType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+docxName+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return nil
	})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("docx render failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "failed to render document")
	}
}

// renderDocx writes summary as a single-paragraph document under a title.
func renderDocx(summary, path string) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return err
	}
	doc.AddParagraph("").AddText("Video Summary").Font(docxFont).Size(16).Bold(true)
	doc.AddParagraph("").AddText(summary).Font(docxFont).Size(13)
	return doc.SaveTo(path)
}
