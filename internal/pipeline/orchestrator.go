// Package pipeline sequences acquisition, transcription and summarization
// for one media source and owns the single current-summary slot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsum/internal/acquire"
	"github.com/snarg/vidsum/internal/metrics"
	"github.com/snarg/vidsum/internal/tempfile"
	"github.com/snarg/vidsum/internal/transcribe"
)

// ArtifactName is the key of the downloadable summary artifact.
const ArtifactName = "video_summary.txt"

const (
	MinSentences = 1
	MaxSentences = 10
)

// Acquirer produces a local audio file the caller must release.
type Acquirer interface {
	Acquire(ctx context.Context, src acquire.Source) (*tempfile.File, error)
}

// Summarizer condenses a transcript.
type Summarizer interface {
	Summarize(text string, count int) (string, error)
}

// ArtifactStore persists the summary artifact.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Options configures an Orchestrator.
type Options struct {
	Acquirer       Acquirer
	Provider       transcribe.Provider
	Summarizer     Summarizer
	Slot           *Slot
	Events         *EventBus     // optional
	Artifacts      ArtifactStore // optional
	TranscribeOpts transcribe.TranscribeOpts
	// DefaultSentences is used when a run does not specify a count.
	DefaultSentences int
	Log              zerolog.Logger
}

// RunOptions are per-run parameters.
type RunOptions struct {
	SentenceCount int    // 0 = default
	Trigger       string // "http", "watch", "mqtt", "cli"
}

// Result is a successful run's output.
type Result struct {
	RunID      string        `json:"run_id"`
	Summary    string        `json:"summary"`
	Transcript string        `json:"-"`
	Sentences  int           `json:"sentence_count"`
	Elapsed    time.Duration `json:"-"`
}

// StatePayload is the data of a pipeline.state event.
type StatePayload struct {
	State   State  `json:"state"`
	Source  string `json:"source"`
	Trigger string `json:"trigger,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SummaryPayload is the data of a pipeline.summary event.
type SummaryPayload struct {
	Summary       string `json:"summary"`
	SentenceCount int    `json:"sentence_count"`
}

// Orchestrator runs the pipeline. At most one run is in flight.
type Orchestrator struct {
	acquirer   Acquirer
	provider   transcribe.Provider
	summarizer Summarizer
	slot       *Slot
	events     *EventBus
	artifacts  ArtifactStore
	sttOpts    transcribe.TranscribeOpts
	defaultN   int
	log        zerolog.Logger

	busy chan struct{}
	seq  atomic.Uint64
}

// New creates an Orchestrator. A nil Slot gets a fresh one.
func New(opts Options) *Orchestrator {
	slot := opts.Slot
	if slot == nil {
		slot = NewSlot()
	}
	n := opts.DefaultSentences
	if n < MinSentences || n > MaxSentences {
		n = 3
	}
	return &Orchestrator{
		acquirer:   opts.Acquirer,
		provider:   opts.Provider,
		summarizer: opts.Summarizer,
		slot:       slot,
		events:     opts.Events,
		artifacts:  opts.Artifacts,
		sttOpts:    opts.TranscribeOpts,
		defaultN:   n,
		log:        opts.Log.With().Str("component", "pipeline").Logger(),
		busy:       make(chan struct{}, 1),
	}
}

// Slot returns the result slot.
func (o *Orchestrator) Slot() *Slot { return o.slot }

// Events returns the event bus (may be nil).
func (o *Orchestrator) Events() *EventBus { return o.events }

// Busy reports whether a run is in flight.
func (o *Orchestrator) Busy() bool { return len(o.busy) > 0 }

// SummarySet reports whether a summary is available.
func (o *Orchestrator) SummarySet() bool {
	_, ok := o.slot.Summary()
	return ok
}

// SubscriberCount returns live event subscribers.
func (o *Orchestrator) SubscriberCount() int {
	if o.events == nil {
		return 0
	}
	return o.events.SubscriberCount()
}

// Run executes the pipeline, waiting for any in-flight run to finish first.
func (o *Orchestrator) Run(ctx context.Context, src acquire.Source, opts RunOptions) (*Result, error) {
	count, err := o.validate(src, opts)
	if err != nil {
		return nil, err
	}
	select {
	case o.busy <- struct{}{}:
	case <-ctx.Done():
		return nil, &Error{Kind: KindCanceled, Stage: StateIdle, Err: ctx.Err()}
	}
	defer func() { <-o.busy }()
	return o.run(ctx, src, opts, count)
}

// TryRun is Run but returns ErrBusy instead of waiting.
func (o *Orchestrator) TryRun(ctx context.Context, src acquire.Source, opts RunOptions) (*Result, error) {
	count, err := o.validate(src, opts)
	if err != nil {
		return nil, err
	}
	select {
	case o.busy <- struct{}{}:
	default:
		metrics.PipelineRejectedTotal.Inc()
		return nil, ErrBusy
	}
	defer func() { <-o.busy }()
	return o.run(ctx, src, opts, count)
}

func (o *Orchestrator) validate(src acquire.Source, opts RunOptions) (int, error) {
	count := opts.SentenceCount
	if count == 0 {
		count = o.defaultN
	}
	if count < MinSentences || count > MaxSentences {
		return 0, &Error{
			Kind:  KindInvalidInput,
			Stage: StateIdle,
			Err:   fmt.Errorf("sentence count must be between %d and %d, got %d", MinSentences, MaxSentences, count),
		}
	}
	if err := src.Validate(); err != nil {
		return 0, &Error{Kind: KindInvalidInput, Stage: StateIdle, Err: err}
	}
	return count, nil
}

func (o *Orchestrator) run(ctx context.Context, src acquire.Source, opts RunOptions, count int) (*Result, error) {
	started := time.Now()
	runID := fmt.Sprintf("%d-%d", started.UnixMilli(), o.seq.Add(1))
	source := src.Kind().String()
	log := o.log.With().
		Str("run_id", runID).
		Str("source", source).
		Str("trigger", opts.Trigger).
		Logger()

	o.slot.begin(RunInfo{
		ID:        runID,
		Source:    source,
		Trigger:   opts.Trigger,
		State:     StateAcquiring,
		StartedAt: started,
	})
	o.publishState(runID, StatePayload{State: StateAcquiring, Source: source, Trigger: opts.Trigger})
	log.Info().Int("sentence_count", count).Msg("pipeline run started")

	fail := func(e *Error) (*Result, error) {
		o.finishFailed(runID, source, opts.Trigger, e, log)
		return nil, e
	}

	// Everything the run acquires is released when it returns; the
	// transcribing stage releases the audio early.
	scope := tempfile.NewScope("")
	defer scope.Close()

	var audio *tempfile.File
	if e := o.stage(ctx, StateAcquiring, KindAcquisition, func() error {
		f, err := o.acquirer.Acquire(ctx, src)
		if f != nil {
			scope.Adopt(f)
		}
		if err != nil {
			return err
		}
		if f == nil {
			return errors.New("acquirer returned no audio")
		}
		audio = f
		return nil
	}); e != nil {
		return fail(e)
	}
	log.Debug().Str("path", audio.Path()).Int64("bytes", audio.Size()).Msg("audio acquired")

	o.transition(runID, source, opts.Trigger, StateTranscribing)
	var transcript string
	if e := o.stage(ctx, StateTranscribing, KindTranscription, func() error {
		defer audio.Release()
		resp, err := o.provider.Transcribe(ctx, audio.Path(), o.sttOpts)
		if err != nil {
			return err
		}
		if resp == nil {
			return fmt.Errorf("%s returned no transcript", o.provider.Name())
		}
		transcript = strings.TrimSpace(resp.Text)
		return nil
	}); e != nil {
		return fail(e)
	}
	log.Debug().Int("chars", len(transcript)).Msg("transcription complete")

	o.transition(runID, source, opts.Trigger, StateSummarizing)
	var summary string
	if e := o.stage(ctx, StateSummarizing, KindSummarization, func() error {
		var err error
		summary, err = o.summarizer.Summarize(transcript, count)
		return err
	}); e != nil {
		return fail(e)
	}

	finished := time.Now()
	o.slot.complete(summary, finished)
	if o.artifacts != nil {
		if err := o.artifacts.Save(ctx, ArtifactName, []byte(summary), "text/plain; charset=utf-8"); err != nil {
			log.Warn().Err(err).Msg("failed to save summary artifact")
		}
	}
	o.publishState(runID, StatePayload{State: StateDone, Source: source, Trigger: opts.Trigger})
	if o.events != nil {
		o.events.Publish(EventSummary, runID, SummaryPayload{Summary: summary, SentenceCount: count})
		metrics.EventsPublishedTotal.Inc()
	}
	metrics.PipelineRunsTotal.WithLabelValues(source, "done").Inc()

	elapsed := finished.Sub(started)
	log.Info().Dur("elapsed", elapsed).Int("summary_chars", len(summary)).Msg("pipeline run done")
	return &Result{
		RunID:      runID,
		Summary:    summary,
		Transcript: transcript,
		Sentences:  count,
		Elapsed:    elapsed,
	}, nil
}

// stage runs fn as one pipeline stage. Cancellation is checked before fn
// starts; panics in fn are converted to the stage's failure kind.
func (o *Orchestrator) stage(ctx context.Context, state State, kind Kind, fn func() error) (e *Error) {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindCanceled, Stage: state, Err: err}
	}

	start := time.Now()
	defer func() {
		metrics.PipelineStageDuration.WithLabelValues(string(state)).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			o.log.Error().Interface("panic", r).Str("stage", string(state)).Msg("stage panicked")
			e = &Error{Kind: kind, Stage: state, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := fn(); err != nil {
		return &Error{Kind: classify(ctx, err, kind), Stage: state, Err: err}
	}
	return nil
}

func (o *Orchestrator) transition(runID, source, trigger string, state State) {
	o.slot.advance(state)
	o.publishState(runID, StatePayload{State: state, Source: source, Trigger: trigger})
}

func (o *Orchestrator) finishFailed(runID, source, trigger string, e *Error, log zerolog.Logger) {
	o.slot.fail(e, time.Now())
	if o.artifacts != nil {
		// The run's ctx may already be canceled.
		if err := o.artifacts.Delete(context.Background(), ArtifactName); err != nil {
			log.Warn().Err(err).Msg("failed to delete stale summary artifact")
		}
	}
	o.publishState(runID, StatePayload{
		State:   StateFailed,
		Source:  source,
		Trigger: trigger,
		Kind:    e.Kind,
		Error:   e.Message(),
	})
	metrics.PipelineRunsTotal.WithLabelValues(source, string(e.Kind)).Inc()
	log.Warn().Err(e.Err).Str("kind", string(e.Kind)).Str("stage", string(e.Stage)).Msg("pipeline run failed")
}

func (o *Orchestrator) publishState(runID string, p StatePayload) {
	if o.events == nil {
		return
	}
	o.events.Publish(EventState, runID, p)
	metrics.EventsPublishedTotal.Inc()
}
