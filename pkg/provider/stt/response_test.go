package stt_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/MrWong99/voxpipe/pkg/provider/stt"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		body string
		want string
	}{
		{`{"error":{"message":"Invalid API key","type":"auth"}}`, "Invalid API key"},
		{`{"error":"quota exceeded"}`, "quota exceeded"},
		{`{"detail":{"status":"invalid","message":"bad model_id"}}`, "bad model_id"},
		{`{"detail":"not found"}`, "not found"},
		{`{"message":"rate limited"}`, "rate limited"},
		{"  upstream timeout \n", "upstream timeout"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stt.ErrorMessage([]byte(tt.body)); got != tt.want {
			t.Errorf("ErrorMessage(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestCheckResponse(t *testing.T) {
	t.Parallel()

	resp := func(code int, body string) *http.Response {
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body))}
	}

	if err := stt.CheckResponse(resp(200, "")); err != nil {
		t.Errorf("200: %v", err)
	}

	var se *voice.ServerError
	if err := stt.CheckResponse(resp(401, `{"error":{"message":"bad key"}}`)); !errors.As(err, &se) || se.Message != "bad key" {
		t.Errorf("401 with body: %v", err)
	}

	var he *voice.HTTPError
	if err := stt.CheckResponse(resp(503, "")); !errors.As(err, &he) || he.StatusCode != 503 {
		t.Errorf("503 without body: %v", err)
	}
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := stt.TransportError(ctx, "post", context.Canceled); !errors.Is(err, context.Canceled) || voice.IsRetryable(err) {
		t.Errorf("cancelled: %v", err)
	}

	err := stt.TransportError(context.Background(), "post", errors.New("connection reset"))
	if !voice.IsRetryable(err) {
		t.Errorf("network failure not retryable: %v", err)
	}
}
