package acquire

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/snarg/vidsum/internal/tempfile"
)

// Normalize re-encodes src to 16 kHz mono PCM WAV with ffmpeg:
//   - -vn drops any video stream (mp4 uploads)
//   - -ar 16000 -ac 1 is what Whisper resamples to internally anyway
//
// On success the returned file owns src as well, so releasing it releases
// both. On failure the new file is released and src is left untouched.
func Normalize(ctx context.Context, ffmpeg, dir string, src *tempfile.File) (*tempfile.File, error) {
	out, err := tempfile.Acquire(dir, ".wav")
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-i", src.Path(),
		"-vn",
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y",
		out.Path(),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Clean up partial output
		out.Release()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg normalize: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg normalize: %w", err)
	}
	if out.Size() == 0 {
		out.Release()
		return nil, fmt.Errorf("ffmpeg normalize: empty output")
	}

	out.Absorb(src)
	return out, nil
}
