package transcribe

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsum/internal/config"
)

// New builds the provider selected by cfg.STTProvider. device is only
// consulted by the local provider.
func New(cfg *config.Config, device Device, log zerolog.Logger) (Provider, error) {
	var p Provider
	switch cfg.STTProvider {
	case "", "whisper":
		p = NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperTimeout)
	case "openai":
		p = NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	case "elevenlabs":
		p = NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModel, cfg.WhisperTimeout)
	case "deepinfra":
		p = NewDeepInfraClient(cfg.DeepInfraAPIKey, cfg.DeepInfraModel, cfg.WhisperTimeout)
	case "local":
		p = NewLocalClient(cfg.WhisperCLIPath, cfg.WhisperModelPath, cfg.WhisperThreads, device, cfg.TempDir)
	default:
		return nil, fmt.Errorf("unknown STT_PROVIDER %q", cfg.STTProvider)
	}

	log.Info().
		Str("provider", p.Name()).
		Str("model", p.Model()).
		Str("device", string(device)).
		Msg("transcription provider ready")
	return p, nil
}

// Options derives per-request options from cfg.
func Options(cfg *config.Config) TranscribeOpts {
	return TranscribeOpts{
		Temperature: cfg.WhisperTemperature,
		Language:    cfg.WhisperLanguage,
		Prompt:      cfg.WhisperPrompt,
	}
}
