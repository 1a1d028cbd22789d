// Package transcribe adapts speech-to-text backends behind one Provider
// interface. A provider is built once per process and reused for every run.
package transcribe

import "context"

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error)
	Name() string  // "whisper", "openai", "elevenlabs", "deepinfra", "local"
	Model() string // model identifier for logs and health
}

// TranscribeOpts are per-request options. Zero-value fields are omitted from
// requests so servers fall back to their own defaults.
type TranscribeOpts struct {
	Temperature float64
	Language    string // ISO-639-1; empty = auto-detect
	Prompt      string // initial prompt / domain vocabulary
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds, 0 if unknown
}
