package acquire

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// Fetcher downloads the best available audio stream of a remote media URL and
// transcodes it to mp3 at outPrefix+".mp3".
type Fetcher interface {
	Fetch(ctx context.Context, url, outPrefix string) error
}

// YTDLPFetcher drives the yt-dlp binary through go-ytdlp.
type YTDLPFetcher struct {
	executable string
	ffmpeg     string
	quality    string
	timeout    time.Duration
}

// NewYTDLPFetcher creates a fetcher. quality is passed to --audio-quality
// (e.g. "192K"); a zero timeout disables the per-fetch deadline.
func NewYTDLPFetcher(executable, ffmpeg, quality string, timeout time.Duration) *YTDLPFetcher {
	if quality == "" {
		quality = "192K"
	}
	return &YTDLPFetcher{
		executable: executable,
		ffmpeg:     ffmpeg,
		quality:    quality,
		timeout:    timeout,
	}
}

func (f *YTDLPFetcher) Fetch(ctx context.Context, url, outPrefix string) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	dl := ytdlp.New().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat("mp3").
		AudioQuality(f.quality).
		NoPlaylist().
		NoCheckCertificates().
		ForceOverwrites().
		Quiet().
		Output(outPrefix + ".%(ext)s")
	if f.executable != "" {
		dl = dl.SetExecutable(f.executable)
	}
	if f.ffmpeg != "" {
		dl = dl.FFmpegLocation(f.ffmpeg)
	}

	res, err := dl.Run(ctx, url)
	if err != nil {
		if res != nil {
			if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
				return fmt.Errorf("yt-dlp: %w: %s", err, lastLine(stderr))
			}
		}
		return fmt.Errorf("yt-dlp: %w", err)
	}
	return nil
}

// lastLine keeps error messages short; yt-dlp prints the cause last.
func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
