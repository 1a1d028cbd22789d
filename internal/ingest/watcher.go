// Package ingest feeds media into the pipeline from triggers other than
// HTTP: a drop folder and an MQTT request topic.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/vidsum/internal/acquire"
	"github.com/snarg/vidsum/internal/metrics"
	"github.com/snarg/vidsum/internal/pipeline"
)

// Runner executes a pipeline run, waiting for the slot if a run is in flight.
// *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, src acquire.Source, opts pipeline.RunOptions) (*pipeline.Result, error)
}

const defaultDebounce = 2 * time.Second

type WatcherOptions struct {
	Dir string
	// Remove deletes a file after it was summarized successfully. Files
	// already in Dir at startup are only picked up when Remove is set.
	Remove   bool
	Debounce time.Duration
	Runner   Runner
	Log      zerolog.Logger
}

// FileWatcher summarizes media files dropped into a directory. Files are
// handled one at a time in arrival order.
type FileWatcher struct {
	dir      string
	remove   bool
	debounce time.Duration
	runner   Runner
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	queue   chan string
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesProcessed atomic.Int64
	filesFailed    atomic.Int64
	status         atomic.Value // string: "starting", "watching", "stopped"
}

// WatcherStats is a point-in-time view of the watcher.
type WatcherStats struct {
	Status         string `json:"status"`
	WatchDir       string `json:"watch_dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesFailed    int64  `json:"files_failed"`
}

func NewFileWatcher(opts WatcherOptions) *FileWatcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	fw := &FileWatcher{
		dir:            opts.Dir,
		remove:         opts.Remove,
		debounce:       opts.Debounce,
		runner:         opts.Runner,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		queue:          make(chan string, 64),
		debounceTimers: make(map[string]*time.Timer),
	}
	fw.status.Store("starting")
	return fw
}

// Start watches the directory until ctx is done or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(fw.dir); err != nil {
		w.Close()
		return err
	}
	fw.watcher = w

	ctx, fw.cancel = context.WithCancel(ctx)

	fw.wg.Add(2)
	go func() {
		defer fw.wg.Done()
		fw.watchLoop(ctx)
	}()
	go func() {
		defer fw.wg.Done()
		fw.worker(ctx)
	}()

	if fw.remove {
		fw.backlog()
	}
	fw.status.Store("watching")
	fw.log.Info().Str("watch_dir", fw.dir).Bool("remove", fw.remove).Msg("file watcher started")
	return nil
}

// Stop closes the fsnotify watcher and waits for the in-flight file.
func (fw *FileWatcher) Stop() {
	fw.status.Store("stopped")
	if fw.watcher != nil {
		fw.watcher.Close()
	}
	if fw.cancel != nil {
		fw.cancel()
	}

	fw.debounceMu.Lock()
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	fw.wg.Wait()
	fw.log.Info().
		Int64("files_processed", fw.filesProcessed.Load()).
		Int64("files_failed", fw.filesFailed.Load()).
		Msg("file watcher stopped")
}

// Status returns the watcher state for the health endpoint.
func (fw *FileWatcher) Status() string {
	s, _ := fw.status.Load().(string)
	return s
}

func (fw *FileWatcher) Stats() WatcherStats {
	return WatcherStats{
		Status:         fw.Status(),
		WatchDir:       fw.dir,
		FilesProcessed: fw.filesProcessed.Load(),
		FilesFailed:    fw.filesFailed.Load(),
	}
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !candidate(event.Name) {
				continue
			}
			fw.scheduleProcess(ctx, event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// candidate reports whether path looks like a finished media file. Dotfiles
// are skipped so partial copies (".name.mp3.part", rsync temps) are ignored.
func candidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if !acquire.SupportedExtensions[acquire.NormalizeExtension(filepath.Ext(base))] {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// scheduleProcess queues path once no event has been seen for it for the
// debounce interval, so the file is fully written before it is read.
func (fw *FileWatcher) scheduleProcess(ctx context.Context, path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(fw.debounce)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(fw.debounce, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		select {
		case fw.queue <- path:
		case <-ctx.Done():
		}
	})
}

// backlog queues media files that were dropped while the service was down.
func (fw *FileWatcher) backlog() {
	entries, err := os.ReadDir(fw.dir)
	if err != nil {
		fw.log.Warn().Err(err).Msg("failed to scan watch directory")
		return
	}
	n := 0
	for _, e := range entries {
		path := filepath.Join(fw.dir, e.Name())
		if !candidate(path) {
			continue
		}
		select {
		case fw.queue <- path:
			n++
		default:
			// Queue full; the rest is picked up on the next restart.
			fw.log.Warn().Int("queued", n).Msg("backlog truncated")
			return
		}
	}
	if n > 0 {
		fw.log.Info().Int("files", n).Msg("backlog queued")
	}
}

func (fw *FileWatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-fw.queue:
			fw.processFile(ctx, path)
		}
	}
}

func (fw *FileWatcher) processFile(ctx context.Context, path string) {
	log := fw.log.With().Str("path", path).Logger()
	metrics.TriggerMessagesTotal.WithLabelValues("watch").Inc()

	data, err := os.ReadFile(path)
	if err != nil {
		// Gone already: removed by a previous run or by the user.
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to read dropped file")
			fw.filesFailed.Add(1)
		}
		return
	}

	res, err := fw.runner.Run(ctx, acquire.UploadFile(path, data), pipeline.RunOptions{Trigger: "watch"})
	if err != nil {
		fw.filesFailed.Add(1)
		log.Warn().Err(err).Msg("dropped file not summarized")
		return
	}
	fw.filesProcessed.Add(1)
	log.Info().Str("run_id", res.RunID).Int("sentences", res.Sentences).Msg("dropped file summarized")

	if fw.remove {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to remove dropped file")
		}
	}
}
