package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsum/internal/acquire"
	"github.com/snarg/vidsum/internal/metrics"
	"github.com/snarg/vidsum/internal/pipeline"
)

// Publisher sends a payload to an MQTT topic. *mqttclient.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Request is the JSON body accepted on the request topic.
type Request struct {
	// ID is echoed in the reply so callers can correlate requests.
	ID            string `json:"id,omitempty"`
	URL           string `json:"url"`
	SentenceCount int    `json:"sentence_count"`
}

// Reply is published to the result topic once per request.
type Reply struct {
	ID      string         `json:"id,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
	State   pipeline.State `json:"state"`
	Summary string         `json:"summary"`
	Error   string         `json:"error,omitempty"`
	Kind    pipeline.Kind  `json:"kind,omitempty"`
}

type MQTTTriggerOptions struct {
	Runner      Runner
	Publisher   Publisher
	ResultTopic string
	// QueueSize bounds requests waiting behind the running one.
	QueueSize int
	Log       zerolog.Logger
}

// MQTTTrigger turns request-topic messages into URL runs. Requests are
// handled in arrival order by a single worker.
type MQTTTrigger struct {
	runner      Runner
	pub         Publisher
	resultTopic string
	queue       chan Request
	log         zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMQTTTrigger(opts MQTTTriggerOptions) *MQTTTrigger {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &MQTTTrigger{
		runner:      opts.Runner,
		pub:         opts.Publisher,
		resultTopic: opts.ResultTopic,
		queue:       make(chan Request, opts.QueueSize),
		log:         opts.Log.With().Str("component", "mqtt_trigger").Logger(),
	}
}

// Start runs the worker until ctx is done or Stop is called.
func (t *MQTTTrigger) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-t.queue:
				t.process(ctx, req)
			}
		}
	}()
}

// Stop cancels the in-flight run and waits for the worker to exit.
// Queued requests are dropped.
func (t *MQTTTrigger) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// HandleMessage is the mqttclient message handler. It never blocks.
func (t *MQTTTrigger) HandleMessage(topic string, payload []byte) {
	metrics.TriggerMessagesTotal.WithLabelValues("mqtt").Inc()

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		t.log.Warn().Err(err).Str("topic", topic).Msg("invalid request payload")
		t.reply(Reply{State: pipeline.StateFailed, Kind: pipeline.KindInvalidInput, Error: "invalid JSON payload"})
		return
	}

	select {
	case t.queue <- req:
		t.log.Debug().Str("id", req.ID).Str("url", req.URL).Msg("request queued")
	default:
		t.log.Warn().Str("id", req.ID).Msg("request queue full, rejecting")
		t.reply(Reply{ID: req.ID, State: pipeline.StateFailed, Error: pipeline.ErrBusy.Error()})
	}
}

func (t *MQTTTrigger) process(ctx context.Context, req Request) {
	res, err := t.runner.Run(ctx, acquire.RemoteURL(req.URL), pipeline.RunOptions{
		SentenceCount: req.SentenceCount,
		Trigger:       "mqtt",
	})
	if err != nil {
		rep := Reply{ID: req.ID, State: pipeline.StateFailed, Error: err.Error()}
		var pe *pipeline.Error
		if errors.As(err, &pe) {
			rep.Kind = pe.Kind
			rep.Error = pe.Message()
		}
		t.reply(rep)
		return
	}
	t.reply(Reply{ID: req.ID, RunID: res.RunID, State: pipeline.StateDone, Summary: res.Summary})
}

func (t *MQTTTrigger) reply(rep Reply) {
	if t.pub == nil || t.resultTopic == "" {
		return
	}
	data, err := json.Marshal(rep)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	if err := t.pub.Publish(t.resultTopic, data); err != nil {
		t.log.Warn().Err(err).Str("topic", t.resultTopic).Msg("failed to publish reply")
	}
}
