package soniox_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/provider/stt/soniox"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

// fakeAPI emulates the Soniox async endpoints. statuses is consumed one entry
// per status poll; the last entry repeats.
type fakeAPI struct {
	t        *testing.T
	statuses []string

	mu          sync.Mutex
	polls       int
	transcripts int
	deletes     []string
	created     map[string]any
	authHeader  string
	uploadName  string
	deleteDelay time.Duration
	pollSeen    chan struct{}
	deleted     chan struct{}
}

func newFakeAPI(t *testing.T, statuses ...string) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{
		t:        t,
		statuses: statuses,
		pollSeen: make(chan struct{}, 128),
		deleted:  make(chan struct{}, 8),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHeader = r.Header.Get("Authorization")
		f.mu.Unlock()
		_, fh, err := r.FormFile("file")
		if err != nil {
			t.Errorf("upload: %v", err)
			http.Error(w, "bad upload", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.uploadName = fh.Filename
		f.mu.Unlock()
		io.WriteString(w, `{"id":"file-1"}`)
	})
	mux.HandleFunc("POST /transcriptions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("create: %v", err)
		}
		f.mu.Lock()
		f.created = body
		f.mu.Unlock()
		io.WriteString(w, `{"id":"job-1","status":"queued"}`)
	})
	mux.HandleFunc("GET /transcriptions/job-1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		i := min(f.polls, len(f.statuses)-1)
		f.polls++
		status := f.statuses[i]
		f.mu.Unlock()
		f.pollSeen <- struct{}{}
		if status == "error" {
			io.WriteString(w, `{"id":"job-1","status":"error","error_message":"audio could not be decoded"}`)
			return
		}
		io.WriteString(w, `{"id":"job-1","status":"`+status+`"}`)
	})
	mux.HandleFunc("GET /transcriptions/job-1/transcript", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.transcripts++
		f.mu.Unlock()
		io.WriteString(w, `{"id":"job-1","tokens":[{"text":"Hel"},{"text":"lo"},{"text":" world"}]}`)
	})
	mux.HandleFunc("DELETE /", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		delay := f.deleteDelay
		f.mu.Unlock()
		time.Sleep(delay)
		f.mu.Lock()
		f.deletes = append(f.deletes, r.URL.Path)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		f.deleted <- struct{}{}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

// awaitDeletes blocks until n DELETE requests have been answered.
func (f *fakeAPI) awaitDeletes(n int, timeout time.Duration) {
	f.t.Helper()
	deadline := time.After(timeout)
	for range n {
		select {
		case <-f.deleted:
		case <-deadline:
			f.t.Fatalf("cleanup did not delete %d resources within %v", n, timeout)
		}
	}
}

func (f *fakeAPI) snapshot() (polls, transcripts int, deletes []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls, f.transcripts, append([]string(nil), f.deletes...)
}

func speech() audio.Buffer {
	s := make([]float32, 3200)
	for i := range s {
		s[i] = 0.2
	}
	return audio.Buffer{Samples: s, SampleRate: 16000}
}

func newProvider(t *testing.T, srv *httptest.Server, interval time.Duration, attempts int) *soniox.Provider {
	t.Helper()
	p, err := soniox.New("sk-soniox", soniox.WithBaseURL(srv.URL), soniox.WithPolling(interval, attempts))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestTranscribe_Completed(t *testing.T) {
	t.Parallel()

	f, srv := newFakeAPI(t, "processing", "completed")
	p := newProvider(t, srv, time.Millisecond, 60)

	got, err := p.Transcribe(context.Background(), stt.Request{Audio: speech(), Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "Hello world" {
		t.Errorf("text = %q, want %q", got, "Hello world")
	}

	f.awaitDeletes(2, time.Second)
	polls, transcripts, deletes := f.snapshot()
	if polls != 2 || transcripts != 1 {
		t.Errorf("polls=%d transcripts=%d, want 2/1", polls, transcripts)
	}
	if strings.Join(deletes, ",") != "/transcriptions/job-1,/files/file-1" {
		t.Errorf("deletes = %v", deletes)
	}
	if f.authHeader != "Bearer sk-soniox" || f.uploadName != "audio.wav" {
		t.Errorf("auth=%q upload=%q", f.authHeader, f.uploadName)
	}
	if f.created["file_id"] != "file-1" || f.created["model"] != "stt-async-preview" {
		t.Errorf("create body = %v", f.created)
	}
	if hints, _ := f.created["language_hints"].([]any); len(hints) != 1 || hints[0] != "en" {
		t.Errorf("language_hints = %v", f.created["language_hints"])
	}
}

func TestTranscribe_ErrorOnFirstPoll(t *testing.T) {
	t.Parallel()

	f, srv := newFakeAPI(t, "error")
	p := newProvider(t, srv, time.Millisecond, 60)

	_, err := p.Transcribe(context.Background(), stt.Request{Audio: speech()})
	var se *voice.ServerError
	if !errors.As(err, &se) || !strings.Contains(se.Message, "error") {
		t.Fatalf("err = %v, want ServerError containing \"error\"", err)
	}
	if polls, transcripts, _ := f.snapshot(); polls != 1 || transcripts != 0 {
		t.Errorf("polls=%d transcripts=%d, want 1/0", polls, transcripts)
	}
}

func TestTranscribe_TimesOut(t *testing.T) {
	t.Parallel()

	f, srv := newFakeAPI(t, "processing")
	p := newProvider(t, srv, time.Millisecond, 5)

	_, err := p.Transcribe(context.Background(), stt.Request{Audio: speech()})
	var se *voice.ServerError
	if !errors.As(err, &se) || se.Message != "timed out" {
		t.Fatalf("err = %v, want ServerError(timed out)", err)
	}
	if polls, transcripts, _ := f.snapshot(); polls != 5 || transcripts != 0 {
		t.Errorf("polls=%d transcripts=%d, want 5/0", polls, transcripts)
	}
}

func TestTranscribe_CancelStopsPolling(t *testing.T) {
	t.Parallel()

	const interval = 50 * time.Millisecond
	f, srv := newFakeAPI(t, "processing")
	p := newProvider(t, srv, interval, 60)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := p.Transcribe(ctx, stt.Request{Audio: speech()})
		done <- err
	}()

	<-f.pollSeen
	cancel()
	start := time.Now()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Transcribe did not return within one second of cancel")
	}
	if elapsed := time.Since(start); elapsed > interval+100*time.Millisecond {
		t.Errorf("returned %v after cancel, want within one poll interval", elapsed)
	}

	polls, _, _ := f.snapshot()
	time.Sleep(3 * interval)
	if after, _, _ := f.snapshot(); after != polls {
		t.Errorf("polling continued after cancel: %d -> %d", polls, after)
	}
}

func TestTranscribe_CleanupDoesNotDelayResult(t *testing.T) {
	t.Parallel()

	const deleteDelay = 2 * time.Second
	f, srv := newFakeAPI(t, "completed")
	f.mu.Lock()
	f.deleteDelay = deleteDelay
	f.mu.Unlock()
	p := newProvider(t, srv, time.Millisecond, 60)

	start := time.Now()
	got, err := p.Transcribe(context.Background(), stt.Request{Audio: speech()})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "Hello world" {
		t.Errorf("text = %q, want %q", got, "Hello world")
	}
	if elapsed >= deleteDelay/2 {
		t.Errorf("Transcribe took %v, want it to return before the %v deletes finish", elapsed, deleteDelay)
	}
	if _, _, deletes := f.snapshot(); len(deletes) != 0 {
		t.Errorf("deletes finished before Transcribe returned: %v", deletes)
	}

	f.awaitDeletes(2, 3*deleteDelay)
	if _, _, deletes := f.snapshot(); strings.Join(deletes, ",") != "/transcriptions/job-1,/files/file-1" {
		t.Errorf("deletes = %v", deletes)
	}
}

func TestTranscribe_UploadRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"message":"invalid api key"}`)
	}))
	t.Cleanup(srv.Close)
	p := newProvider(t, srv, time.Millisecond, 60)

	_, err := p.Transcribe(context.Background(), stt.Request{Audio: speech()})
	var se *voice.ServerError
	if !errors.As(err, &se) || se.Message != "invalid api key" {
		t.Errorf("err = %v", err)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := soniox.New(""); err == nil {
		t.Error("empty key accepted")
	}
}
