package history_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxpipe/internal/history"
	"github.com/MrWong99/voxpipe/internal/history/mock"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

func TestFromResult(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	llm := 200 * time.Millisecond

	corrected := history.FromResult(voice.Result{
		SessionID: "s1",
		Text:      "Hello there.",
		RawText:   "hello their",
		Provider:  "openai",
		Metrics:   voice.Metrics{STT: time.Second, LLM: &llm, Total: 1300 * time.Millisecond},
	}, "dictation", now)
	if corrected.OriginalText != "hello their" || corrected.CorrectedText != "Hello there." {
		t.Errorf("texts = %q / %q", corrected.OriginalText, corrected.CorrectedText)
	}
	if corrected.LLMDuration == nil || *corrected.LLMDuration != llm || corrected.Mode != "dictation" {
		t.Errorf("record = %+v", corrected)
	}

	plain := history.FromResult(voice.Result{SessionID: "s2", Text: "raw", Provider: "local"}, "transcription", now)
	if plain.OriginalText != "raw" || plain.CorrectedText != "" || plain.LLMDuration != nil {
		t.Errorf("record = %+v", plain)
	}
}

func TestAsync_WritesAndDrains(t *testing.T) {
	t.Parallel()

	store := &mock.Store{SaveDelay: 5 * time.Millisecond}
	a := history.NewAsync(store, 8)
	for i := range 5 {
		if !a.Submit(history.Record{SessionID: string(rune('a' + i))}) {
			t.Fatalf("Submit %d dropped", i)
		}
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(store.Snapshot()); got != 5 {
		t.Errorf("saved %d records, want 5", got)
	}
	if a.Submit(history.Record{SessionID: "late"}) {
		t.Error("Submit after Close accepted a record")
	}
	if err := a.Close(context.Background()); !errors.Is(err, history.ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
}

func TestAsync_DropsWhenFull(t *testing.T) {
	t.Parallel()

	saved := make(chan history.Record)
	store := &mock.Store{Saved: saved}
	a := history.NewAsync(store, 1)

	// The worker takes the first record and blocks delivering it on saved.
	a.Submit(history.Record{SessionID: "1"})
	time.Sleep(20 * time.Millisecond)
	a.Submit(history.Record{SessionID: "2"})
	if a.Submit(history.Record{SessionID: "3"}) {
		t.Error("Submit on a full queue accepted a record")
	}

	go func() {
		for range saved {
		}
	}()
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(saved)
}

func TestAsync_SaveErrorIsLogged(t *testing.T) {
	t.Parallel()

	store := &mock.Store{SaveErr: errors.New("disk full")}
	a := history.NewAsync(store, 0)
	a.Submit(history.Record{SessionID: "x"})
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Error("failed save recorded")
	}
}

func TestAsync_CloseHonoursContext(t *testing.T) {
	t.Parallel()

	store := &mock.Store{SaveDelay: time.Second}
	a := history.NewAsync(store, 4)
	a.Submit(history.Record{SessionID: "slow"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close = %v, want DeadlineExceeded", err)
	}
}
