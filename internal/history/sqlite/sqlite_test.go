package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxpipe/internal/history"
	"github.com/MrWong99/voxpipe/internal/history/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "data", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndRecent(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	llm := 250 * time.Millisecond

	records := []history.Record{
		{SessionID: "a", Provider: "local", OriginalText: "first", STTDuration: time.Second, TotalDuration: time.Second, CreatedAt: base},
		{SessionID: "b", Provider: "openai", Mode: "dictation", OriginalText: "hello their", CorrectedText: "Hello there.",
			STTDuration: 800 * time.Millisecond, LLMDuration: &llm, TotalDuration: 1100 * time.Millisecond, CreatedAt: base.Add(time.Minute)},
	}
	for _, r := range records {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].SessionID != "b" || got[1].SessionID != "a" {
		t.Errorf("order = %s, %s; want newest first", got[0].SessionID, got[1].SessionID)
	}
	if got[0].CorrectedText != "Hello there." || got[0].Mode != "dictation" {
		t.Errorf("record = %+v", got[0])
	}
	if got[0].LLMDuration == nil || *got[0].LLMDuration != llm {
		t.Errorf("LLMDuration = %v, want %v", got[0].LLMDuration, llm)
	}
	if got[1].LLMDuration != nil {
		t.Errorf("LLMDuration = %v, want nil", *got[1].LLMDuration)
	}
	if got[0].STTDuration != 800*time.Millisecond || got[0].ID == 0 {
		t.Errorf("STTDuration = %v, ID = %d", got[0].STTDuration, got[0].ID)
	}
	if !got[1].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got[1].CreatedAt, base)
	}
}

func TestStore_RecentLimit(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	for i := range 5 {
		r := history.Record{SessionID: string(rune('a' + i)), Provider: "local", OriginalText: "x",
			CreatedAt: time.Unix(int64(1000+i), 0).UTC()}
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "e" {
		t.Errorf("Recent(2) = %+v", got)
	}
}

func TestStore_DefaultsCreatedAt(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, history.Record{SessionID: "x", Provider: "local", OriginalText: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].CreatedAt.IsZero() {
		t.Errorf("Recent = %+v, want a timestamped record", got)
	}
}
