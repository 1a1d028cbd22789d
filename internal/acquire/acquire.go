// Package acquire turns a media source (remote URL or uploaded bytes) into a
// local audio file owned by the caller.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsum/internal/tempfile"
)

// Options configures an Acquirer.
type Options struct {
	Fetcher   Fetcher
	TempDir   string
	YTDLPPath string
	FFmpeg    string
	Normalize bool
	Log       zerolog.Logger
}

// Acquirer produces scoped temporary audio files.
type Acquirer struct {
	fetcher   Fetcher
	tempDir   string
	ffmpeg    string
	normalize bool
	log       zerolog.Logger

	// depErr is fixed at construction: tool availability is a startup
	// precondition, not re-evaluated per request.
	depErr error
}

// New creates an Acquirer and checks the external tools needed to fetch
// remote media. A missing tool is logged, not fatal: uploads still work and
// URL requests fail fast with ErrDependency.
func New(opts Options) *Acquirer {
	a := &Acquirer{
		fetcher:   opts.Fetcher,
		tempDir:   opts.TempDir,
		ffmpeg:    opts.FFmpeg,
		normalize: opts.Normalize,
		log:       opts.Log.With().Str("component", "acquire").Logger(),
	}

	a.depErr = CheckDependencies(opts.YTDLPPath, opts.FFmpeg)
	if a.depErr != nil {
		a.log.Warn().Err(a.depErr).Msg("remote media fetching disabled")
	}
	if a.normalize {
		if _, ok := LookTool(opts.FFmpeg); ok {
			a.log.Info().Msg("audio normalization enabled (ffmpeg found)")
		} else {
			a.log.Warn().Msg("NORMALIZE_AUDIO=true but ffmpeg not found in PATH; normalization disabled")
			a.normalize = false
		}
	}
	return a
}

// DependencyError returns the startup tool check result (nil when URL fetching works).
func (a *Acquirer) DependencyError() error { return a.depErr }

// Acquire materializes src as a local audio file. The caller owns the result
// and must Release it. On error no temporary file is left behind.
func (a *Acquirer) Acquire(ctx context.Context, src Source) (*tempfile.File, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	var (
		f   *tempfile.File
		err error
	)
	switch src.Kind() {
	case KindURL:
		f, err = a.fetch(ctx, src.URL())
	case KindUpload:
		f, err = a.materialize(src)
	}
	if err != nil {
		return nil, err
	}

	if !a.normalize {
		return f, nil
	}
	n, err := Normalize(ctx, a.ffmpeg, a.tempDir, f)
	if err != nil {
		if ctx.Err() != nil {
			f.Release()
			return nil, ctx.Err()
		}
		a.log.Warn().Err(err).Msg("normalization failed, using original audio")
		return f, nil
	}
	return n, nil
}

func (a *Acquirer) fetch(ctx context.Context, rawURL string) (*tempfile.File, error) {
	if err := checkURL(rawURL); err != nil {
		return nil, err
	}
	if a.depErr != nil {
		return nil, a.depErr
	}
	if a.fetcher == nil {
		return nil, fmt.Errorf("%w: no fetch service configured", ErrDependency)
	}

	// Reserve a bare prefix only. yt-dlp skips the download when the final
	// <prefix>.mp3 already exists, so that name must stay free until it
	// writes it.
	reserved, err := tempfile.Acquire(a.tempDir, "")
	if err != nil {
		return nil, err
	}
	prefix := reserved.Path()
	f := tempfile.Own(prefix + ".mp3")
	f.Absorb(reserved)

	done := false
	defer func() {
		trackSiblings(f, prefix)
		if !done {
			f.Release()
		}
	}()

	a.log.Info().Str("url", rawURL).Msg("downloading remote audio")
	if err := a.fetcher.Fetch(ctx, rawURL, prefix); err != nil {
		return nil, err
	}
	if f.Size() == 0 {
		return nil, errors.New("fetch produced no audio")
	}
	done = true
	return f, nil
}

func (a *Acquirer) materialize(src Source) (*tempfile.File, error) {
	f, err := tempfile.Acquire(a.tempDir, "."+src.Extension())
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(f.Path(), src.Data(), 0o600); err != nil {
		f.Release()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	a.log.Debug().
		Str("name", src.Name()).
		Str("ext", src.Extension()).
		Int("bytes", len(src.Data())).
		Msg("upload materialized")
	return f, nil
}

// trackSiblings attaches intermediates the downloader left next to the
// target (original container, .part files) so they are released with it.
func trackSiblings(f *tempfile.File, prefix string) {
	matches, _ := filepath.Glob(prefix + ".*")
	for _, m := range matches {
		if m != f.Path() {
			f.Track(m)
		}
	}
}
