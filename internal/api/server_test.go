package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/snarg/vidsum/internal/acquire"
	"github.com/snarg/vidsum/internal/config"
	"github.com/snarg/vidsum/internal/pipeline"
	"github.com/snarg/vidsum/internal/tempfile"
	"github.com/snarg/vidsum/internal/transcribe"
)

// fakeAcquirer hands out empty temp files; sources are validated by the orchestrator.
type fakeAcquirer struct {
	dir string
	err error
}

func (a *fakeAcquirer) Acquire(ctx context.Context, src acquire.Source) (*tempfile.File, error) {
	if a.err != nil {
		return nil, a.err
	}
	return tempfile.Acquire(a.dir, ".mp3")
}

type fakeProvider struct{ text string }

func (p fakeProvider) Name() string  { return "fake" }
func (p fakeProvider) Model() string { return "fake-1" }
func (p fakeProvider) Transcribe(ctx context.Context, path string, _ transcribe.TranscribeOpts) (*transcribe.Response, error) {
	return &transcribe.Response{Text: p.text}, nil
}

// firstN returns the first count "sentences" split on ". ".
type firstN struct{}

func (firstN) Summarize(text string, count int) (string, error) {
	parts := strings.SplitAfter(text, ". ")
	if count < len(parts) {
		parts = parts[:count]
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}

// recordingRunner captures calls and returns canned results.
type recordingRunner struct {
	mu      sync.Mutex
	sources []acquire.Source
	opts    []pipeline.RunOptions
	err     error
}

func (r *recordingRunner) TryRun(ctx context.Context, src acquire.Source, opts pipeline.RunOptions) (*pipeline.Result, error) {
	r.mu.Lock()
	r.sources = append(r.sources, src)
	r.opts = append(r.opts, opts)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Result{RunID: "1-1", Summary: "Short.", Sentences: opts.SentenceCount}, nil
}

type testEnv struct {
	router http.Handler
	orch   *pipeline.Orchestrator
	events *pipeline.EventBus
	acq    *fakeAcquirer
}

func newTestEnv(t *testing.T, cfg *config.Config, transcript string) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{MaxUploadMB: 1}
	}
	cfg.TempDir = t.TempDir()
	events := pipeline.NewEventBus(32)
	acq := &fakeAcquirer{dir: t.TempDir()}
	orch := pipeline.New(pipeline.Options{
		Acquirer:         acq,
		Provider:         fakeProvider{text: transcript},
		Summarizer:       firstN{},
		Events:           events,
		DefaultSentences: 3,
		Log:              zerolog.Nop(),
	})
	router := NewRouter(cfg, ServerOptions{
		Runner: orch,
		Slot:   orch.Slot(),
		Events: events,
		Health: HealthOptions{
			Version:   "test",
			StartTime: time.Now(),
			Busy:      orch.Busy,
			Provider:  &ProviderInfo{Provider: "fake", Model: "fake-1"},
		},
	}, zerolog.Nop())
	return &testEnv{router: router, orch: orch, events: events, acq: acq}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func buildMultipartForm(t *testing.T, fields map[string]string, fileField string, fileData []byte, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	if fileData != nil && fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(fileData)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

const transcript = "First point here. Second point here. Third point here. Fourth point here."

func TestSummaryLifecycle(t *testing.T) {
	env := newTestEnv(t, nil, transcript)

	t.Run("download_404_before_any_run", func(t *testing.T) {
		rec := env.do(t, httptest.NewRequest("GET", "/api/v1/summary/download", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("url_run_sets_slot", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/summaries/url",
			strings.NewReader(`{"url":"https://www.youtube.com/watch?v=abc","sentence_count":2}`))
		rec := env.do(t, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
		}
		var resp runResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Summary != "First point here. Second point here." {
			t.Errorf("Summary = %q", resp.Summary)
		}
		if resp.State != pipeline.StateDone || resp.SentenceCount != 2 {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("get_summary", func(t *testing.T) {
		rec := env.do(t, httptest.NewRequest("GET", "/api/v1/summary", nil))
		var snap pipeline.Snapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatal(err)
		}
		if !snap.Set || snap.State != pipeline.StateDone || snap.Run == nil {
			t.Errorf("snapshot = %+v", snap)
		}
	})

	t.Run("download_txt", func(t *testing.T) {
		rec := env.do(t, httptest.NewRequest("GET", "/api/v1/summary/download", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
			t.Errorf("Content-Type = %q", ct)
		}
		if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="video_summary.txt"` {
			t.Errorf("Content-Disposition = %q", cd)
		}
		if got := rec.Body.String(); got != "First point here. Second point here." {
			t.Errorf("body = %q", got)
		}
	})

	t.Run("download_docx", func(t *testing.T) {
		rec := env.do(t, httptest.NewRequest("GET", "/api/v1/summary/download?format=docx", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; body: %s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != docxType {
			t.Errorf("Content-Type = %q", ct)
		}
		body := rec.Body.Bytes()
		if _, err := zip.NewReader(bytes.NewReader(body), int64(len(body))); err != nil {
			t.Errorf("docx is not a zip container: %v", err)
		}
	})

	t.Run("download_bad_format", func(t *testing.T) {
		rec := env.do(t, httptest.NewRequest("GET", "/api/v1/summary/download?format=pdf", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("failed_run_clears_download", func(t *testing.T) {
		env.acq.err = errors.New("network unreachable")
		defer func() { env.acq.err = nil }()

		req := httptest.NewRequest("POST", "/api/v1/summaries/url", strings.NewReader(`{"url":"https://www.youtube.com/watch?v=abc"}`))
		rec := env.do(t, req)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
		var body ErrorResponse
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Kind != string(pipeline.KindAcquisition) || body.Stage != string(pipeline.StateAcquiring) {
			t.Errorf("body = %+v", body)
		}

		rec = env.do(t, httptest.NewRequest("GET", "/api/v1/summary/download", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("download after failure: status = %d, want 404", rec.Code)
		}
	})
}

func TestEmptySummaryDownload(t *testing.T) {
	env := newTestEnv(t, nil, "")
	body, ct := buildMultipartForm(t, nil, "file", []byte("audio"), "silence.wav")
	req := httptest.NewRequest("POST", "/api/v1/summaries/upload", body)
	req.Header.Set("Content-Type", ct)
	if rec := env.do(t, req); rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d; body: %s", rec.Code, rec.Body.String())
	}

	rec := env.do(t, httptest.NewRequest("GET", "/api/v1/summary/download", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestSummariesHandler(t *testing.T) {
	newRouter := func(runner Runner) http.Handler {
		cfg := &config.Config{MaxUploadMB: 1, TempDir: t.TempDir()}
		return NewRouter(cfg, ServerOptions{Runner: runner, Slot: pipeline.NewSlot()}, zerolog.Nop())
	}

	t.Run("upload_passes_file_and_count", func(t *testing.T) {
		runner := &recordingRunner{}
		body, ct := buildMultipartForm(t, map[string]string{"sentence_count": "4"}, "file", []byte{1, 2, 3}, "talk.MP4")
		req := httptest.NewRequest("POST", "/api/v1/summaries/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		newRouter(runner).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; body: %s", rec.Code, rec.Body.String())
		}
		if len(runner.sources) != 1 {
			t.Fatalf("runner called %d times, want 1", len(runner.sources))
		}
		src := runner.sources[0]
		if src.Kind() != acquire.KindUpload || src.Extension() != "mp4" || len(src.Data()) != 3 {
			t.Errorf("source = %v %q %d bytes", src.Kind(), src.Extension(), len(src.Data()))
		}
		if runner.opts[0].SentenceCount != 4 || runner.opts[0].Trigger != "http" {
			t.Errorf("opts = %+v", runner.opts[0])
		}
	})

	t.Run("upload_missing_file", func(t *testing.T) {
		runner := &recordingRunner{}
		body, ct := buildMultipartForm(t, map[string]string{"sentence_count": "3"}, "", nil, "")
		req := httptest.NewRequest("POST", "/api/v1/summaries/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		newRouter(runner).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if len(runner.sources) != 0 {
			t.Error("runner should not be called")
		}
	})

	t.Run("upload_bad_count", func(t *testing.T) {
		body, ct := buildMultipartForm(t, map[string]string{"sentence_count": "42"}, "file", []byte("x"), "a.mp3")
		req := httptest.NewRequest("POST", "/api/v1/summaries/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		newRouter(&recordingRunner{}).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("upload_too_large", func(t *testing.T) {
		body, ct := buildMultipartForm(t, nil, "file", bytes.Repeat([]byte("x"), 2<<20), "big.mp3")
		req := httptest.NewRequest("POST", "/api/v1/summaries/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		newRouter(&recordingRunner{}).ServeHTTP(rec, req)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", rec.Code)
		}
	})

	t.Run("not_multipart", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/summaries/upload", strings.NewReader("plain"))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		newRouter(&recordingRunner{}).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("url_invalid_json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/summaries/url", strings.NewReader(`{bad`))
		rec := httptest.NewRecorder()
		newRouter(&recordingRunner{}).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("busy_returns_409", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/summaries/url", strings.NewReader(`{"url":"https://a.example/v"}`))
		rec := httptest.NewRecorder()
		newRouter(&recordingRunner{err: pipeline.ErrBusy}).ServeHTTP(rec, req)
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("empty_url_returns_400", func(t *testing.T) {
		env := newTestEnv(t, nil, transcript)
		req := httptest.NewRequest("POST", "/api/v1/summaries/url", strings.NewReader(`{"url":"  "}`))
		rec := env.do(t, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		var body ErrorResponse
		json.Unmarshal(rec.Body.Bytes(), &body)
		if !strings.Contains(body.Error, "please enter a video URL") {
			t.Errorf("Error = %q", body.Error)
		}
	})
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, &config.Config{MaxUploadMB: 1, AuthToken: "secret"}, transcript)

	rec := env.do(t, httptest.NewRequest("GET", "/api/v1/summary", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("summary without token: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/summary", nil)
	req.Header.Set("Authorization", "Bearer secret")
	if rec := env.do(t, req); rec.Code != http.StatusOK {
		t.Errorf("summary with token: status = %d, want 200", rec.Code)
	}

	if rec := env.do(t, httptest.NewRequest("GET", "/api/v1/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200 without auth", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Run("degraded_without_media_tools", func(t *testing.T) {
		h := NewHealthHandler(HealthOptions{
			Version:      "v1",
			StartTime:    time.Now(),
			Dependencies: func() error { return acquire.ErrDependency },
			Provider:     &ProviderInfo{Provider: "whisper", Model: "base"},
			ArtifactType: "local",
			Watcher:      func() string { return "watching" },
		})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		var resp HealthResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Status != "degraded" {
			t.Errorf("Status = %q, want degraded", resp.Status)
		}
		if resp.Checks["media_tools"] != "missing" || resp.Checks["mqtt"] != "not_configured" ||
			resp.Checks["file_watcher"] != "watching" || resp.Checks["artifacts"] != "local" {
			t.Errorf("Checks = %v", resp.Checks)
		}
		if resp.Transcription == nil || resp.Transcription.Model != "base" {
			t.Errorf("Transcription = %+v", resp.Transcription)
		}
	})

	t.Run("unhealthy_without_provider", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHealthHandler(HealthOptions{StartTime: time.Now()}).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, transcript)
	env.do(t, httptest.NewRequest("GET", "/api/v1/health", nil))
	rec := env.do(t, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "vidsum_http_requests_total") {
		t.Error("missing vidsum_http_requests_total")
	}
}

func TestEventStreams(t *testing.T) {
	env := newTestEnv(t, nil, transcript)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	t.Run("sse_replays_after_last_event_id", func(t *testing.T) {
		env.events.Publish(pipeline.EventState, "r1", map[string]string{"state": "acquiring"})
		first := env.events.ReplaySince("", pipeline.EventFilter{})
		lastID := first[len(first)-1].ID
		env.events.Publish(pipeline.EventState, "r1", map[string]string{"state": "done"})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/v1/events/stream", nil)
		req.Header.Set("Last-Event-ID", lastID)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("Content-Type = %q", ct)
		}

		buf := make([]byte, 4096)
		var got strings.Builder
		for !strings.Contains(got.String(), "\n\n") {
			n, err := resp.Body.Read(buf)
			got.Write(buf[:n])
			if err != nil {
				break
			}
		}
		if !strings.Contains(got.String(), "event: pipeline.state") || !strings.Contains(got.String(), `"state":"done"`) {
			t.Errorf("stream = %q", got.String())
		}
		if strings.Contains(got.String(), `"state":"acquiring"`) {
			t.Error("event before Last-Event-ID was replayed")
		}
	})

	t.Run("websocket_receives_run_events", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws?types=pipeline.summary"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		defer conn.Close()

		// Wait for the subscription to register before starting a run.
		deadline := time.Now().Add(2 * time.Second)
		for env.events.SubscriberCount() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}

		if _, err := env.orch.Run(context.Background(), acquire.UploadFile("a.mp3", []byte("x")), pipeline.RunOptions{SentenceCount: 1}); err != nil {
			t.Fatal(err)
		}

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var evt pipeline.Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if evt.Type != pipeline.EventSummary {
			t.Errorf("Type = %q, want %q", evt.Type, pipeline.EventSummary)
		}
		var payload pipeline.SummaryPayload
		json.Unmarshal(evt.Data, &payload)
		if payload.Summary != "First point here." {
			t.Errorf("Summary = %q", payload.Summary)
		}
	})
}

func TestOpenAPIRoute(t *testing.T) {
	cfg := &config.Config{MaxUploadMB: 1, AuthToken: "secret"}
	router := NewRouter(cfg, ServerOptions{Slot: pipeline.NewSlot(), OpenAPI: []byte("openapi: 3.0.3\n")}, zerolog.Nop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/openapi.yaml", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 without auth", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "openapi:") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
