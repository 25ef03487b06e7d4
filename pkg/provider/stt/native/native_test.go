package native_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/mock"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/native"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

func TestRecognizer_PartialsAndFinal(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	sess.CloseEmits = []stt.Transcript{{Text: "world", IsFinal: true}}
	r := native.New(&mock.StreamingProvider{Session: sess})

	var (
		mu       sync.Mutex
		partials []string
	)
	got := make(chan struct{}, 4)
	ls, err := r.BeginLive(context.Background(), stt.LiveConfig{
		SampleRate: 16000,
		OnPartial: func(tr stt.Transcript) {
			mu.Lock()
			partials = append(partials, tr.Text)
			mu.Unlock()
			got <- struct{}{}
		},
	})
	if err != nil {
		t.Fatalf("BeginLive: %v", err)
	}

	if err := ls.Feed(make([]float32, 320)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	sess.PartialsCh <- stt.Transcript{Text: "hel"}
	<-got
	sess.FinalsCh <- stt.Transcript{Text: "hello", IsFinal: true}
	// The collector handles channels sequentially, so once the final has been
	// received any later partial sees it committed.
	for len(sess.FinalsCh) > 0 {
		time.Sleep(time.Millisecond)
	}
	sess.PartialsCh <- stt.Transcript{Text: "wor"}
	<-got

	text, err := ls.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if text != "hello world" {
		t.Errorf("final = %q, want %q", text, "hello world")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(partials) != 2 || partials[0] != "hel" || partials[1] != "hello wor" {
		t.Errorf("partials = %q", partials)
	}
	if sends, closes := sess.Counts(); sends != 1 || closes != 1 {
		t.Errorf("sends=%d closes=%d, want 1/1", sends, closes)
	}
	if sess.SentBytes != 640 {
		t.Errorf("SentBytes = %d, want 640", sess.SentBytes)
	}
}

func TestRecognizer_TranscribeStreamsWholeBuffer(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	sess.CloseEmits = []stt.Transcript{{Text: "one two", IsFinal: true}}
	sp := &mock.StreamingProvider{Session: sess}
	r := native.New(sp)

	buf := audio.Buffer{Samples: make([]float32, 4000), SampleRate: 16000}
	text, err := r.Transcribe(context.Background(), stt.Request{Audio: buf, Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "one two" {
		t.Errorf("text = %q", text)
	}
	if sends, _ := sess.Counts(); sends != 3 {
		t.Errorf("sent %d chunks, want 3", sends)
	}
	if cfg := sp.StartStreamCalls[0].Cfg; cfg.Language != "en" || cfg.Channels != 1 {
		t.Errorf("stream config = %+v", cfg)
	}
}

func TestRecognizer_EmptyAudio(t *testing.T) {
	t.Parallel()

	r := native.New(&mock.StreamingProvider{})
	if _, err := r.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, voice.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestRecognizer_FinishTimesOut(t *testing.T) {
	t.Parallel()

	// A session whose channels never close.
	h := &stuckSession{partials: make(chan stt.Transcript), finals: make(chan stt.Transcript)}
	r := native.New(&mock.StreamingProvider{Session: h}, native.WithFinalTimeout(20*time.Millisecond))

	ls, err := r.BeginLive(context.Background(), stt.LiveConfig{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = ls.Finish(context.Background())
	if !voice.IsRetryable(err) {
		t.Errorf("err = %v, want a TransportError", err)
	}
	if err := ls.Abort(); err != nil {
		t.Errorf("Abort after Finish: %v", err)
	}
}

func TestRecognizer_StartError(t *testing.T) {
	t.Parallel()

	r := native.New(&mock.StreamingProvider{StartStreamErr: errors.New("dial failed")})
	if _, err := r.BeginLive(context.Background(), stt.LiveConfig{}); err == nil {
		t.Error("expected error")
	}
}

type stuckSession struct {
	partials, finals chan stt.Transcript
}

func (s *stuckSession) SendAudio([]byte) error              { return nil }
func (s *stuckSession) Partials() <-chan stt.Transcript      { return s.partials }
func (s *stuckSession) Finals() <-chan stt.Transcript        { return s.finals }
func (s *stuckSession) SetKeywords([]stt.KeywordBoost) error { return stt.ErrNotSupported }
func (s *stuckSession) Close() error                         { return nil }
