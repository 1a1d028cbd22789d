package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const deepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient calls DeepInfra's native inference API for Whisper models.
type DeepInfraClient struct {
	apiKey  string
	model   string // e.g. "openai/whisper-large-v3-turbo"
	baseURL string
	client  *http.Client
}

type deepInfraResponse struct {
	Text     string             `json:"text"`
	Language string             `json:"language"`
	Duration float64            `json:"duration"`
	Segments []deepInfraSegment `json:"segments"`
}

type deepInfraSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewDeepInfraClient creates a new DeepInfra inference client.
func NewDeepInfraClient(apiKey, model string, timeout time.Duration) *DeepInfraClient {
	return &DeepInfraClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: deepInfraBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (di *DeepInfraClient) Name() string { return "deepinfra" }

// Model returns the configured model identifier.
func (di *DeepInfraClient) Model() string { return di.model }

// Transcribe posts the audio under the "audio" field (DeepInfra's convention).
func (di *DeepInfraClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	if opts.Language != "" {
		w.WriteField("language", opts.Language)
	}
	if opts.Prompt != "" {
		w.WriteField("initial_prompt", opts.Prompt)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, di.baseURL+di.model, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+di.apiKey)

	resp, err := di.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepinfra request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepinfra API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result deepInfraResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Some models return only segments.
	text := result.Text
	if strings.TrimSpace(text) == "" && len(result.Segments) > 0 {
		parts := make([]string, 0, len(result.Segments))
		for _, seg := range result.Segments {
			if s := strings.TrimSpace(seg.Text); s != "" {
				parts = append(parts, s)
			}
		}
		text = strings.Join(parts, " ")
	}

	return &Response{
		Text:     text,
		Language: result.Language,
		Duration: result.Duration,
	}, nil
}
