package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/snarg/vidsum/internal/tempfile"
)

// runFunc executes an external command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// LocalClient runs the whisper.cpp CLI against a ggml model on disk.
type LocalClient struct {
	binary    string
	modelPath string
	threads   int
	device    Device
	tempDir   string
	run       runFunc
}

// NewLocalClient creates a whisper.cpp CLI provider.
func NewLocalClient(binary, modelPath string, threads int, device Device, tempDir string) *LocalClient {
	if threads <= 0 {
		threads = 4
	}
	return &LocalClient{
		binary:    binary,
		modelPath: modelPath,
		threads:   threads,
		device:    device,
		tempDir:   tempDir,
		run:       execRun,
	}
}

// Name returns the provider name.
func (lc *LocalClient) Name() string { return "local" }

// Model returns the model file path.
func (lc *LocalClient) Model() string { return lc.modelPath }

// Transcribe writes the transcript to a scoped .txt file and reads it back.
func (lc *LocalClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	var text string
	err := tempfile.With(lc.tempDir, ".txt", func(out *tempfile.File) error {
		// whisper-cli appends .txt to the -of prefix
		prefix := strings.TrimSuffix(out.Path(), ".txt")
		args := []string{
			"-m", lc.modelPath,
			"-f", audioPath,
			"-t", strconv.Itoa(lc.threads),
			"-otxt",
			"-of", prefix,
			"-np",
		}
		if opts.Language != "" {
			args = append(args, "-l", opts.Language)
		}
		if opts.Prompt != "" {
			args = append(args, "--prompt", opts.Prompt)
		}
		if lc.device == DeviceCPU {
			args = append(args, "-ng")
		}

		if output, err := lc.run(ctx, lc.binary, args...); err != nil {
			return fmt.Errorf("whisper-cli: %w: %s", err, lastLine(string(output)))
		}
		data, err := os.ReadFile(out.Path())
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}
		text = strings.TrimSpace(string(data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Response{Text: text, Language: opts.Language}, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
