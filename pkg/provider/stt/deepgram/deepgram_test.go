package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxpipe/pkg/provider/stt"
)

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	if _, ok := q["keywords"]; ok {
		t.Error("expected no 'keywords' param when none provided")
	}
}

func TestBuildURL_OptionsAndKeywords(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Keywords: []stt.KeywordBoost{
		{Keyword: "Kubernetes", Boost: 5},
		{Keyword: "voxpipe"},
	}})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	kws := q["keywords"]
	if len(kws) != 2 || kws[0] != "Kubernetes:5" || kws[1] != "voxpipe" {
		t.Errorf("keywords = %v", kws)
	}
}

func TestParseResult(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"start": 1.5,
		"duration": 0.9,
		"channel": {
			"alternatives": [{
				"transcript": "Hello world",
				"confidence": 0.95,
				"words": [
					{"word": "Hello", "start": 0.1, "end": 0.5, "confidence": 0.97},
					{"word": "world", "start": 0.6, "end": 1.0, "confidence": 0.93}
				]
			}]
		}
	}`)

	tr, ok := parseResult(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if !tr.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "Hello world", tr.Text)
	if tr.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", tr.Confidence)
	}
	if len(tr.Words) != 2 || tr.Words[0].Start != 100*time.Millisecond {
		t.Errorf("words = %+v", tr.Words)
	}
	if tr.Timestamp != 1500*time.Millisecond || tr.Duration != 900*time.Millisecond {
		t.Errorf("timestamp=%v duration=%v", tr.Timestamp, tr.Duration)
	}
}

func TestParseResult_Ignored(t *testing.T) {
	for name, raw := range map[string]string{
		"metadata":           `{"type":"Metadata","request_id":"abc"}`,
		"empty alternatives": `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"invalid json":       `{invalid`,
	} {
		if _, ok := parseResult([]byte(raw)); ok {
			t.Errorf("%s: expected ok=false", name)
		}
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

// fakeDeepgram answers the first audio frame with a partial and CloseStream
// with a final before closing the connection normally.
type fakeDeepgram struct {
	mu         sync.Mutex
	auth       string
	audioBytes int
	gotClose   bool
}

func (f *fakeDeepgram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.auth = r.Header.Get("Authorization")
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()

	sentPartial := false
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			f.mu.Lock()
			f.audioBytes += len(msg)
			f.mu.Unlock()
			if !sentPartial {
				sentPartial = true
				conn.Write(ctx, websocket.MessageText, []byte(
					`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`))
			}
			continue
		}
		if strings.Contains(string(msg), "CloseStream") {
			f.mu.Lock()
			f.gotClose = true
			f.mu.Unlock()
			conn.Write(ctx, websocket.MessageText, []byte(
				`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello there"}]}}`))
			conn.Close(websocket.StatusNormalClosure, "done")
			return
		}
	}
}

func TestStream_EndToEnd(t *testing.T) {
	fake := &fakeDeepgram{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	p, err := New("dg-key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatal(err)
	}
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	if err := h.SendAudio(make([]byte, 640)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case tr := <-h.Partials():
		assertEqual(t, "partial", "hel", tr.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no partial received")
	}
	if err := h.SendAudio(make([]byte, 640)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	var finals []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for tr := range h.Finals() {
			finals = append(finals, tr.Text)
		}
	}()

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	<-done

	if len(finals) != 1 || finals[0] != "hello there" {
		t.Errorf("finals = %q", finals)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assertEqual(t, "auth", "Token dg-key", fake.auth)
	if fake.audioBytes != 1280 || !fake.gotClose {
		t.Errorf("audioBytes=%d gotClose=%v", fake.audioBytes, fake.gotClose)
	}
	if err := h.SendAudio([]byte{0, 0}); err == nil {
		t.Error("SendAudio after Close succeeded")
	}
}

func TestStartStream_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err_msg":"Invalid credentials."}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("bad", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); err == nil {
		t.Fatal("expected error")
	}
}

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
