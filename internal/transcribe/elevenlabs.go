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
	"time"
)

const elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabsClient calls the ElevenLabs Speech-to-Text API.
type ElevenLabsClient struct {
	apiKey   string
	model    string // "scribe_v1" or "scribe_v2"
	endpoint string
	client   *http.Client
}

type elevenlabsResponse struct {
	LanguageCode string `json:"language_code"`
	Text         string `json:"text"`
}

// NewElevenLabsClient creates a new ElevenLabs STT client.
func NewElevenLabsClient(apiKey, model string, timeout time.Duration) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: elevenLabsSTTEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (el *ElevenLabsClient) Name() string { return "elevenlabs" }

// Model returns the configured model identifier.
func (el *ElevenLabsClient) Model() string { return el.model }

// Transcribe sends an audio file to the ElevenLabs STT API and returns the result.
func (el *ElevenLabsClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	w.WriteField("model_id", el.model)
	if opts.Language != "" {
		w.WriteField("language_code", opts.Language)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, el.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("xi-api-key", el.apiKey)

	resp, err := el.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result elevenlabsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &Response{
		Text:     result.Text,
		Language: result.LanguageCode,
	}, nil
}
