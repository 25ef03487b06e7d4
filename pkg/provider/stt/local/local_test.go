package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/local"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/local/mock"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

// touch creates an empty file under dir and returns its path.
func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("weights"), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func catalog(t *testing.T) []local.Model {
	t.Helper()
	dir := t.TempDir()
	return []local.Model{
		{ID: "base", Path: touch(t, dir, "base.bin")},
		{ID: "small", Path: touch(t, dir, "small.bin"), TokensPath: touch(t, dir, "tokens.txt")},
	}
}

func speech(n int) audio.Buffer {
	s := make([]float32, n)
	for i := range s {
		s[i] = 0.1
	}
	return audio.Buffer{Samples: s, SampleRate: 16000}
}

func TestInitialize_SameModelIsNoOp(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{Text: "hi"}
	svc := local.New(eng, catalog(t))

	for range 3 {
		if err := svc.Initialize(context.Background(), "base"); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	if n := eng.LoadCount(); n != 1 {
		t.Errorf("LoadCount = %d, want 1", n)
	}
	if svc.Current() != "base" {
		t.Errorf("Current = %q", svc.Current())
	}
}

func TestInitialize_SwitchClosesPrevious(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{Text: "hi"}
	svc := local.New(eng, catalog(t))

	if err := svc.Initialize(context.Background(), "base"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Initialize(context.Background(), "small"); err != nil {
		t.Fatal(err)
	}
	if eng.LoadCount() != 2 {
		t.Fatalf("LoadCount = %d, want 2", eng.LoadCount())
	}
	if !eng.Runtimes[0].IsClosed() {
		t.Error("previous runtime not closed on model switch")
	}
	if eng.Runtimes[1].IsClosed() {
		t.Error("current runtime closed")
	}
}

func TestInitialize_ConcurrentCallsLoadOnce(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{Text: "hi", LoadDelay: 20 * time.Millisecond}
	svc := local.New(eng, catalog(t))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Initialize(context.Background(), "base")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Initialize: %v", err)
		}
	}
	if n := eng.LoadCount(); n != 1 {
		t.Errorf("LoadCount = %d, want 1", n)
	}
}

func TestInitialize_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	models := []local.Model{
		{ID: "missing", Path: filepath.Join(dir, "nope.bin")},
		{ID: "no-tokens", Path: touch(t, dir, "m.bin"), TokensPath: filepath.Join(dir, "nope.txt")},
		{ID: "broken", Path: touch(t, dir, "b.bin")},
	}

	tests := []struct {
		name    string
		model   string
		loadErr error
		want    error
	}{
		{name: "unknown model", model: "other", want: local.ErrUnknownModel},
		{name: "model file missing", model: "missing", want: local.ErrModelFileNotFound},
		{name: "tokens file missing", model: "no-tokens", want: local.ErrTokensFileNotFound},
		{name: "engine rejects", model: "broken", loadErr: errors.New("bad magic"), want: local.ErrInitializationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := local.New(&mock.Engine{LoadErr: tt.loadErr}, models)
			err := svc.Initialize(context.Background(), tt.model)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var me *voice.ModelError
			if !errors.As(err, &me) {
				t.Errorf("err is not a ModelError: %T", err)
			}
			if svc.Current() != "" {
				t.Errorf("Current = %q after failed load", svc.Current())
			}
		})
	}
}

func TestTranscribeSamples(t *testing.T) {
	t.Parallel()

	t.Run("not initialized", func(t *testing.T) {
		t.Parallel()
		svc := local.New(&mock.Engine{Text: "x"}, catalog(t))
		if _, err := svc.TranscribeSamples([]float32{0.1}, 16000, ""); !errors.Is(err, local.ErrNotInitialized) {
			t.Errorf("err = %v, want ErrNotInitialized", err)
		}
	})

	t.Run("empty audio", func(t *testing.T) {
		t.Parallel()
		svc := local.New(&mock.Engine{Text: "x"}, catalog(t))
		if _, err := svc.TranscribeSamples(nil, 16000, ""); !errors.Is(err, voice.ErrEmptyAudio) {
			t.Errorf("err = %v, want ErrEmptyAudio", err)
		}
	})

	t.Run("no result", func(t *testing.T) {
		t.Parallel()
		svc := local.New(&mock.Engine{Text: "   "}, catalog(t))
		if err := svc.Initialize(context.Background(), "base"); err != nil {
			t.Fatal(err)
		}
		_, err := svc.TranscribeSamples([]float32{0.1}, 16000, "")
		if !errors.Is(err, local.ErrNoResult) || !voice.IsNoSpeech(err) {
			t.Errorf("err = %v, want ErrNoResult matching ErrNoSpeech", err)
		}
	})
}

func TestTranscribe_LoadsDefaultModel(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{Text: " hello world "}
	svc := local.New(eng, catalog(t), local.WithDefaultModel("small"))

	got, err := svc.Transcribe(context.Background(), stt.Request{Audio: speech(1600), Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "hello world" {
		t.Errorf("text = %q", got)
	}
	if svc.Current() != "small" {
		t.Errorf("Current = %q, want small", svc.Current())
	}
	call := eng.Runtimes[0].Calls[0]
	if call.Samples != 1600 || call.SampleRate != 16000 || call.Language != "de" {
		t.Errorf("runtime call = %+v", call)
	}
	if !svc.Capabilities().AnalyzeSilence || svc.Capabilities().NeedsFile {
		t.Errorf("Capabilities = %+v", svc.Capabilities())
	}
}

func TestTranscribe_CancelledBeforeInference(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{Text: "x"}
	svc := local.New(eng, catalog(t))
	if err := svc.Initialize(context.Background(), "base"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Transcribe(ctx, stt.Request{Audio: speech(10)}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if n := len(eng.Runtimes[0].Calls); n != 0 {
		t.Errorf("runtime called %d times", n)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{Text: "x"}
	svc := local.New(eng, catalog(t))
	if err := svc.Initialize(context.Background(), "base"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	if !eng.Runtimes[0].IsClosed() || svc.Current() != "" {
		t.Error("Close did not release the runtime")
	}
	if err := svc.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestConfigure_SwitchesOnNextTranscribe(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{Text: "x"}
	models := catalog(t)
	svc := local.New(eng, models)
	ctx := context.Background()

	if _, err := svc.Transcribe(ctx, stt.Request{Audio: speech(10)}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	// Same catalog and default: the runtime stays loaded.
	svc.Configure(models, "base")
	if _, err := svc.Transcribe(ctx, stt.Request{Audio: speech(10), Language: "de"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if n := eng.LoadCount(); n != 1 {
		t.Fatalf("loads = %d, want 1", n)
	}

	svc.Configure(models, "small")
	if _, err := svc.Transcribe(ctx, stt.Request{Audio: speech(10)}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if n := eng.LoadCount(); n != 2 {
		t.Fatalf("loads = %d, want 2", n)
	}
	if !eng.Runtimes[0].IsClosed() {
		t.Error("previous runtime not closed before the switch")
	}
	if svc.Current() != "small" {
		t.Errorf("Current = %q, want small", svc.Current())
	}

	if err := svc.Initialize(ctx, "tiny"); !errors.Is(err, local.ErrUnknownModel) {
		t.Errorf("Initialize(tiny) err = %v, want ErrUnknownModel", err)
	}
}
