package correction_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxpipe/internal/correction"
	"github.com/MrWong99/voxpipe/internal/correction/phonetic"
	"github.com/MrWong99/voxpipe/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxpipe/pkg/provider/llm/mock"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		instruction string
		vctx        voice.Context
		want        string
	}{
		{
			name:        "instruction only",
			instruction: "Fix it.",
			want:        "Fix it.",
		},
		{
			name:        "vocabulary",
			instruction: "Fix it.",
			vctx:        voice.Context{Vocabulary: []string{"a", " b ", "", "c", "A"}},
			want:        "Fix it.\n\nTerms: a, b, c",
		},
		{
			name:        "context lines",
			instruction: "Fix it.",
			vctx: voice.Context{
				AppName:      "Mail",
				DocumentType: "email",
				RecentText:   "  Dear Bob,  ",
			},
			want: "Fix it.\n\nApplication: Mail\nDocument type: email\nRecent text: Dear Bob,",
		},
		{
			name: "default instruction",
			want: correction.DefaultInstruction,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := correction.BuildSystemPrompt(tt.instruction, tt.vctx); got != tt.want {
				t.Errorf("BuildSystemPrompt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcess(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello there."}}
	svc := correction.New(p, correction.WithTemperature(0.3), correction.WithMaxTokens(64))

	got, err := svc.Process(context.Background(), "hello their", "Fix it.")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != "Hello there." {
		t.Errorf("Process = %q", got)
	}

	req := p.LastRequest()
	if req.SystemPrompt != "Fix it." || req.Temperature != 0.3 || req.MaxTokens != 64 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "hello their" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestProcess_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		provider   *llmmock.Provider
		wantReason string
	}{
		{"provider failure", &llmmock.Provider{CompleteErr: errors.New("status 500: boom")}, "completion"},
		{"empty reply", &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  "}}, "empty response"},
		{"empty fence", &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "```\n```"}}, "empty response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := correction.New(tt.provider).Process(context.Background(), "x", "p")
			var le *voice.LLMError
			if !errors.As(err, &le) {
				t.Fatalf("err = %v, want *voice.LLMError", err)
			}
			if le.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", le.Reason, tt.wantReason)
			}
		})
	}
}

func TestProcess_NilProvider(t *testing.T) {
	t.Parallel()

	var le *voice.LLMError
	if _, err := correction.New(nil).Process(context.Background(), "x", "p"); !errors.As(err, &le) {
		t.Fatalf("err = %v, want *voice.LLMError", err)
	}
}

func TestProcess_Timeout(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Delay: time.Second}
	_, err := correction.New(p, correction.WithTimeout(20*time.Millisecond)).Process(context.Background(), "x", "p")
	var le *voice.LLMError
	if !errors.As(err, &le) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want LLMError wrapping DeadlineExceeded", err)
	}
}

func TestProcess_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &llmmock.Provider{Delay: time.Second}
	if _, err := correction.New(p).Process(ctx, "x", "p"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCorrect_PhoneticAndPrompt(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Deploy to Kubernetes."}}
	svc := correction.New(p, correction.WithPhonetic(phonetic.New()))

	mode := voice.Mode{Name: "dictation", SystemPrompt: "Clean up."}
	vctx := voice.Context{AppName: "Terminal", Vocabulary: []string{"Kubernetes"}}

	got, err := svc.Correct(context.Background(), "deploy to kubernetis", mode, vctx)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if got != "Deploy to Kubernetes." {
		t.Errorf("Correct = %q", got)
	}

	req := p.LastRequest()
	if req.Messages[0].Content != "deploy to Kubernetes" {
		t.Errorf("user message = %q, want snapped text", req.Messages[0].Content)
	}
	if !strings.HasPrefix(req.SystemPrompt, "Clean up.") || !strings.HasSuffix(req.SystemPrompt, "Terms: Kubernetes") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
}

func TestStripMarkdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Hello there.", "Hello there."},
		{"```\nHello there.\n```", "Hello there."},
		{"```text\nHello there.\n```", "Hello there."},
		{`"Hello there."`, "Hello there."},
		{"“Hello there.”", "Hello there."},
		{`He said "hi" and "bye"`, `He said "hi" and "bye"`},
		{"  padded  ", "padded"},
	}
	for _, tt := range tests {
		if got := correction.StripMarkdown(tt.in); got != tt.want {
			t.Errorf("StripMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
