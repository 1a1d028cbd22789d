package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/rs/zerolog"
	"github.com/snarg/vidsum/internal/acquire"
	"github.com/snarg/vidsum/internal/mqttclient"
	"github.com/snarg/vidsum/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu      sync.Mutex
	sources []acquire.Source
	opts    []pipeline.RunOptions
	err     error
}

func (r *fakeRunner) Run(ctx context.Context, src acquire.Source, opts pipeline.RunOptions) (*pipeline.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, src)
	r.opts = append(r.opts, opts)
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Result{RunID: fmt.Sprintf("run-%d", len(r.sources)), Summary: "A summary.", Sentences: 3}, nil
}

func (r *fakeRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

func (r *fakeRunner) source(i int) (acquire.Source, pipeline.RunOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[i], r.opts[i]
}

type fakePublisher struct {
	mu       sync.Mutex
	messages [][]byte
	topics   []string
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, payload)
	return nil
}

func (p *fakePublisher) replies(t *testing.T) []Reply {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Reply
	for _, m := range p.messages {
		var r Reply
		require.NoError(t, json.Unmarshal(m, &r))
		out = append(out, r)
	}
	return out
}

func startWatcher(t *testing.T, dir string, remove bool, runner Runner) *FileWatcher {
	t.Helper()
	fw := NewFileWatcher(WatcherOptions{
		Dir:      dir,
		Remove:   remove,
		Debounce: 50 * time.Millisecond,
		Runner:   runner,
		Log:      zerolog.Nop(),
	})
	require.NoError(t, fw.Start(context.Background()))
	t.Cleanup(fw.Stop)
	return fw
}

func TestFileWatcher(t *testing.T) {
	t.Run("summarizes_dropped_media", func(t *testing.T) {
		dir := t.TempDir()
		runner := &fakeRunner{}
		fw := startWatcher(t, dir, false, runner)
		assert.Equal(t, "watching", fw.Status())

		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".talk.mp3.part"), []byte("partial"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "talk.MP3"), []byte("ID3 audio"), 0o644))

		require.Eventually(t, func() bool { return runner.calls() == 1 }, 3*time.Second, 20*time.Millisecond)
		src, opts := runner.source(0)
		assert.Equal(t, acquire.KindUpload, src.Kind())
		assert.Equal(t, "mp3", src.Extension())
		assert.Equal(t, "talk.MP3", src.Name())
		assert.Equal(t, "ID3 audio", string(src.Data()))
		assert.Equal(t, "watch", opts.Trigger)
		assert.Zero(t, opts.SentenceCount, "default sentence count")

		assert.FileExists(t, filepath.Join(dir, "talk.MP3"), "kept without WATCH_REMOVE")
		assert.Eventually(t, func() bool { return fw.Stats().FilesProcessed == 1 }, time.Second, 10*time.Millisecond)

		// Nothing else should be picked up.
		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, 1, runner.calls())
	})

	t.Run("remove_after_success", func(t *testing.T) {
		dir := t.TempDir()
		runner := &fakeRunner{}
		startWatcher(t, dir, true, runner)

		path := filepath.Join(dir, "lecture.wav")
		require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))

		require.Eventually(t, func() bool {
			_, err := os.Stat(path)
			return os.IsNotExist(err)
		}, 3*time.Second, 20*time.Millisecond)
		assert.Equal(t, 1, runner.calls())
	})

	t.Run("failed_run_keeps_file", func(t *testing.T) {
		dir := t.TempDir()
		runner := &fakeRunner{err: &pipeline.Error{Kind: pipeline.KindTranscription, Stage: pipeline.StateTranscribing, Err: errors.New("boom")}}
		fw := startWatcher(t, dir, true, runner)

		path := filepath.Join(dir, "talk.m4a")
		require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

		require.Eventually(t, func() bool { return fw.Stats().FilesFailed == 1 }, 3*time.Second, 20*time.Millisecond)
		assert.FileExists(t, path)
	})

	t.Run("backlog_with_remove", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "old.mp4")
		require.NoError(t, os.WriteFile(path, []byte("ftyp"), 0o644))

		runner := &fakeRunner{}
		startWatcher(t, dir, true, runner)

		require.Eventually(t, func() bool { return runner.calls() == 1 }, 3*time.Second, 20*time.Millisecond)
		src, _ := runner.source(0)
		assert.Equal(t, "mp4", src.Extension())
	})

	t.Run("missing_dir", func(t *testing.T) {
		fw := NewFileWatcher(WatcherOptions{Dir: filepath.Join(t.TempDir(), "nope"), Runner: &fakeRunner{}, Log: zerolog.Nop()})
		assert.Error(t, fw.Start(context.Background()))
	})
}

func TestMQTTTriggerHandleMessage(t *testing.T) {
	newTrigger := func(runner Runner, pub Publisher, queue int) *MQTTTrigger {
		return NewMQTTTrigger(MQTTTriggerOptions{
			Runner:      runner,
			Publisher:   pub,
			ResultTopic: "vidsum/result",
			QueueSize:   queue,
			Log:         zerolog.Nop(),
		})
	}

	t.Run("success_reply", func(t *testing.T) {
		runner := &fakeRunner{}
		pub := &fakePublisher{}
		tr := newTrigger(runner, pub, 0)
		tr.Start(context.Background())
		defer tr.Stop()

		tr.HandleMessage("vidsum/request", []byte(`{"id":"req-1","url":"https://www.youtube.com/watch?v=abc","sentence_count":2}`))

		require.Eventually(t, func() bool { return len(pub.replies(t)) == 1 }, 2*time.Second, 10*time.Millisecond)
		rep := pub.replies(t)[0]
		assert.Equal(t, Reply{ID: "req-1", RunID: "run-1", State: pipeline.StateDone, Summary: "A summary."}, rep)
		assert.Equal(t, "vidsum/result", pub.topics[0])

		src, opts := runner.source(0)
		assert.Equal(t, "https://www.youtube.com/watch?v=abc", src.URL())
		assert.Equal(t, 2, opts.SentenceCount)
		assert.Equal(t, "mqtt", opts.Trigger)
	})

	t.Run("failure_reply_carries_kind", func(t *testing.T) {
		runner := &fakeRunner{err: &pipeline.Error{Kind: pipeline.KindAcquisition, Stage: pipeline.StateAcquiring, Err: errors.New("404")}}
		pub := &fakePublisher{}
		tr := newTrigger(runner, pub, 0)
		tr.Start(context.Background())
		defer tr.Stop()

		tr.HandleMessage("vidsum/request", []byte(`{"url":"https://example.com/missing"}`))

		require.Eventually(t, func() bool { return len(pub.replies(t)) == 1 }, 2*time.Second, 10*time.Millisecond)
		rep := pub.replies(t)[0]
		assert.Equal(t, pipeline.StateFailed, rep.State)
		assert.Equal(t, pipeline.KindAcquisition, rep.Kind)
		assert.NotEmpty(t, rep.Error)
		assert.Empty(t, rep.Summary)
	})

	t.Run("invalid_json", func(t *testing.T) {
		runner := &fakeRunner{}
		pub := &fakePublisher{}
		tr := newTrigger(runner, pub, 0)

		tr.HandleMessage("vidsum/request", []byte(`{not json`))

		reps := pub.replies(t)
		require.Len(t, reps, 1)
		assert.Equal(t, pipeline.KindInvalidInput, reps[0].Kind)
		assert.Zero(t, runner.calls())
	})

	t.Run("queue_full_rejects", func(t *testing.T) {
		pub := &fakePublisher{}
		// Not started: the single queue slot stays occupied.
		tr := newTrigger(&fakeRunner{}, pub, 1)

		tr.HandleMessage("vidsum/request", []byte(`{"id":"a","url":"https://a.example/v"}`))
		tr.HandleMessage("vidsum/request", []byte(`{"id":"b","url":"https://a.example/v"}`))

		reps := pub.replies(t)
		require.Len(t, reps, 1)
		assert.Equal(t, "b", reps[0].ID)
		assert.Equal(t, pipeline.ErrBusy.Error(), reps[0].Error)
	})
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestMQTTTriggerBroker(t *testing.T) {
	addr := freeAddr(t)

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{ID: "test", Address: addr})))
	go server.Serve()
	defer server.Close()

	results := make(chan []byte, 4)
	require.NoError(t, server.Subscribe("vidsum/result", 1, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		results <- append([]byte(nil), pk.Payload...)
	}))

	runner := &fakeRunner{}
	tr := NewMQTTTrigger(MQTTTriggerOptions{Runner: runner, ResultTopic: "vidsum/result", Log: zerolog.Nop()})

	client, err := mqttclient.Connect(mqttclient.Options{
		BrokerURL: "tcp://" + addr,
		ClientID:  "vidsum-test",
		Topics:    "vidsum/request",
		Handler:   tr.HandleMessage,
		Log:       zerolog.Nop(),
	})
	require.NoError(t, err)
	defer client.Close()
	tr.pub = client

	tr.Start(context.Background())
	defer tr.Stop()

	require.Eventually(t, func() bool {
		return client.IsConnected() && len(server.Topics.Subscribers("vidsum/request").Subscriptions) > 0
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, server.Publish("vidsum/request", []byte(`{"id":"x1","url":"https://www.youtube.com/watch?v=abc"}`), false, 1))

	select {
	case payload := <-results:
		var rep Reply
		require.NoError(t, json.Unmarshal(payload, &rep))
		assert.Equal(t, "x1", rep.ID)
		assert.Equal(t, pipeline.StateDone, rep.State)
		assert.Equal(t, "A summary.", rep.Summary)
	case <-time.After(5 * time.Second):
		t.Fatal("no reply on result topic")
	}
}
