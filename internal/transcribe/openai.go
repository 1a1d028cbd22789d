package transcribe

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient transcribes through the hosted OpenAI audio API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for the hosted API. baseURL may point at
// any OpenAI-compatible gateway; empty keeps the library default.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name returns the provider name.
func (oc *OpenAIClient) Name() string { return "openai" }

// Model returns the configured model identifier.
func (oc *OpenAIClient) Model() string { return oc.model }

// Transcribe uploads audioPath and returns the transcript.
func (oc *OpenAIClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	resp, err := oc.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       oc.model,
		FilePath:    audioPath,
		Prompt:      opts.Prompt,
		Temperature: float32(opts.Temperature),
		Language:    opts.Language,
		Format:      openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}
	return &Response{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
	}, nil
}
