package acquire

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidSource marks caller mistakes (empty URL, unsupported upload).
	ErrInvalidSource = errors.New("invalid media source")
	// ErrDependency marks a missing external tool (yt-dlp, ffmpeg).
	ErrDependency = errors.New("required external tool unavailable")
	// ErrMalformedURL is returned for URLs that can never be fetched.
	ErrMalformedURL = errors.New("malformed url")
)

// Kind discriminates a Source.
type Kind int

const (
	KindURL Kind = iota + 1
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindURL:
		return "url"
	case KindUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// SupportedExtensions is the set of upload extensions accepted without sniffing.
var SupportedExtensions = map[string]bool{
	"mp3": true,
	"mp4": true,
	"wav": true,
	"m4a": true,
}

// Source is either a remote URL or uploaded bytes with a declared extension.
// Upload data is not copied; callers must not modify it after construction.
type Source struct {
	kind Kind
	url  string
	data []byte
	ext  string
	name string
}

// RemoteURL builds a URL source.
func RemoteURL(u string) Source {
	return Source{kind: KindURL, url: strings.TrimSpace(u)}
}

// Upload builds an upload source from raw bytes and a declared extension
// ("mp3" or ".mp3").
func Upload(data []byte, ext string) Source {
	return Source{kind: KindUpload, data: data, ext: NormalizeExtension(ext)}
}

// UploadFile builds an upload source taking the extension from filename.
func UploadFile(filename string, data []byte) Source {
	s := Upload(data, filepath.Ext(filename))
	s.name = filepath.Base(filename)
	return s
}

// NormalizeExtension lower-cases ext and strips a leading dot.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func (s Source) Kind() Kind        { return s.kind }
func (s Source) URL() string       { return s.url }
func (s Source) Data() []byte      { return s.data }
func (s Source) Extension() string { return s.ext }

// Name is the original filename for uploads, the URL otherwise.
func (s Source) Name() string {
	if s.kind == KindURL {
		return s.url
	}
	return s.name
}

// Validate reports caller errors that must not start a run.
func (s Source) Validate() error {
	switch s.kind {
	case KindURL:
		if s.url == "" {
			return fmt.Errorf("%w: please enter a video URL", ErrInvalidSource)
		}
	case KindUpload:
		if !SupportedExtensions[s.ext] {
			return fmt.Errorf("%w: unsupported file type %q (want mp3, mp4, wav or m4a)", ErrInvalidSource, s.ext)
		}
		if len(s.data) == 0 {
			return fmt.Errorf("%w: uploaded file is empty", ErrInvalidSource)
		}
	default:
		return fmt.Errorf("%w: no source given", ErrInvalidSource)
	}
	return nil
}

// checkURL rejects URLs the fetch service cannot possibly resolve.
func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrMalformedURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrMalformedURL)
	}
	return nil
}
