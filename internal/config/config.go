package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	CORSOrigins  string        `env:"CORS_ORIGINS"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"500"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Scratch space for downloaded and uploaded audio.
	TempDir string `env:"TEMP_DIR"`

	// Acquisition
	YTDLPPath      string        `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	FFmpegPath     string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	AudioQuality   string        `env:"AUDIO_QUALITY" envDefault:"192K"`
	FetchTimeout   time.Duration `env:"FETCH_TIMEOUT" envDefault:"10m"`
	NormalizeAudio bool          `env:"NORMALIZE_AUDIO" envDefault:"false"`

	// Transcription
	STTProvider        string        `env:"STT_PROVIDER" envDefault:"whisper"`
	WhisperURL         string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel       string        `env:"WHISPER_MODEL" envDefault:"base"`
	WhisperTimeout     time.Duration `env:"WHISPER_TIMEOUT" envDefault:"10m"`
	WhisperLanguage    string        `env:"WHISPER_LANGUAGE"`
	WhisperTemperature float64       `env:"WHISPER_TEMPERATURE" envDefault:"0"`
	WhisperPrompt      string        `env:"WHISPER_PROMPT"`
	WhisperDevice      string        `env:"WHISPER_DEVICE" envDefault:"auto"`
	WhisperCLIPath     string        `env:"WHISPER_CLI_PATH" envDefault:"whisper-cli"`
	WhisperModelPath   string        `env:"WHISPER_MODEL_PATH" envDefault:"./models/ggml-base.bin"`
	WhisperThreads     int           `env:"WHISPER_THREADS" envDefault:"4"`
	OpenAIAPIKey       string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL      string        `env:"OPENAI_BASE_URL"`
	OpenAIModel        string        `env:"OPENAI_MODEL" envDefault:"whisper-1"`
	ElevenLabsAPIKey   string        `env:"ELEVENLABS_API_KEY"`
	ElevenLabsModel    string        `env:"ELEVENLABS_MODEL" envDefault:"scribe_v1"`
	DeepInfraAPIKey    string        `env:"DEEPINFRA_API_KEY"`
	DeepInfraModel     string        `env:"DEEPINFRA_MODEL" envDefault:"openai/whisper-large-v3-turbo"`

	// Summarization
	SummarySentences int    `env:"SUMMARY_SENTENCES" envDefault:"3"`
	SummaryLanguage  string `env:"SUMMARY_LANGUAGE" envDefault:"english"`
	SummaryOrder     string `env:"SUMMARY_ORDER" envDefault:"document"`

	// Artifact storage
	ArtifactDir string   `env:"ARTIFACT_DIR" envDefault:"./artifacts"`
	S3          S3Config `envPrefix:"S3_"`

	// Drop folder trigger
	WatchDir      string        `env:"WATCH_DIR"`
	WatchRemove   bool          `env:"WATCH_REMOVE" envDefault:"false"`
	WatchDebounce time.Duration `env:"WATCH_DEBOUNCE" envDefault:"2s"`

	// MQTT trigger
	MQTTBrokerURL    string `env:"MQTT_BROKER_URL"`
	MQTTClientID     string `env:"MQTT_CLIENT_ID" envDefault:"vidsum"`
	MQTTUsername     string `env:"MQTT_USERNAME"`
	MQTTPassword     string `env:"MQTT_PASSWORD"`
	MQTTRequestTopic string `env:"MQTT_REQUEST_TOPIC" envDefault:"vidsum/request"`
	MQTTResultTopic  string `env:"MQTT_RESULT_TOPIC" envDefault:"vidsum/result"`
}

// S3Config configures the optional S3 artifact backend.
type S3Config struct {
	Bucket        string        `env:"BUCKET"`
	Endpoint      string        `env:"ENDPOINT"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	Prefix        string        `env:"PREFIX"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	TempDir     string
	ArtifactDir string
	STTProvider string
	WhisperURL  string
}

var validProviders = map[string]bool{
	"whisper":    true,
	"openai":     true,
	"elevenlabs": true,
	"deepinfra":  true,
	"local":      true,
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.TempDir != "" {
		cfg.TempDir = overrides.TempDir
	}
	if overrides.ArtifactDir != "" {
		cfg.ArtifactDir = overrides.ArtifactDir
	}
	if overrides.STTProvider != "" {
		cfg.STTProvider = overrides.STTProvider
	}
	if overrides.WhisperURL != "" {
		cfg.WhisperURL = overrides.WhisperURL
	}

	cfg.STTProvider = strings.ToLower(strings.TrimSpace(cfg.STTProvider))
	cfg.SummaryOrder = strings.ToLower(strings.TrimSpace(cfg.SummaryOrder))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and provider-specific requirements.
func (c *Config) Validate() error {
	if c.SummarySentences < 1 || c.SummarySentences > 10 {
		return fmt.Errorf("SUMMARY_SENTENCES must be between 1 and 10, got %d", c.SummarySentences)
	}
	if c.SummaryOrder != "document" && c.SummaryOrder != "rank" {
		return fmt.Errorf("SUMMARY_ORDER must be \"document\" or \"rank\", got %q", c.SummaryOrder)
	}
	if !validProviders[c.STTProvider] {
		return fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider)
	}
	switch c.STTProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("STT_PROVIDER=openai requires OPENAI_API_KEY")
		}
	case "elevenlabs":
		if c.ElevenLabsAPIKey == "" {
			return fmt.Errorf("STT_PROVIDER=elevenlabs requires ELEVENLABS_API_KEY")
		}
	case "deepinfra":
		if c.DeepInfraAPIKey == "" {
			return fmt.Errorf("STT_PROVIDER=deepinfra requires DEEPINFRA_API_KEY")
		}
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	return nil
}

// CORSOriginList splits CORS_ORIGINS on commas.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
