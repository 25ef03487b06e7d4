// Package correction implements the LLM post-correction pass of a voice
// session.
//
// The [Service] renders a system prompt from the mode instruction, the
// caller's [voice.Context] and the vocabulary, sends the raw transcript as a
// single user message and returns the model's reply. Any failure is reported
// as a [*voice.LLMError]; the session treats it as fatal when correction was
// requested. The service never retries.
package correction

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voxpipe/internal/correction/phonetic"
	"github.com/MrWong99/voxpipe/pkg/provider/llm"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

const (
	defaultTemperature = 0.1
	defaultTimeout     = 30 * time.Second

	// DefaultInstruction is used when a mode carries no system prompt.
	DefaultInstruction = "You clean up dictated text. Fix spelling, grammar and punctuation, " +
		"keep the speaker's wording and language, and reply with the corrected text only."
)

// Option is a functional option for configuring a [Service].
type Option func(*Service)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(s *Service) { s.temperature = temp }
}

// WithMaxTokens caps the reply length. Zero uses the provider default.
func WithMaxTokens(n int) Option {
	return func(s *Service) { s.maxTokens = n }
}

// WithTimeout bounds a single completion. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithPhonetic enables vocabulary snapping before the LLM pass.
func WithPhonetic(m *phonetic.Matcher) Option {
	return func(s *Service) { s.phonetic = m }
}

// Service is the correction pass. It is safe for concurrent use.
type Service struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
	timeout     time.Duration
	phonetic    *phonetic.Matcher
}

// New returns a Service backed by provider.
func New(provider llm.Provider, opts ...Option) *Service {
	s := &Service{
		llm:         provider,
		temperature: defaultTemperature,
		timeout:     defaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BuildSystemPrompt renders the mode instruction followed by the labelled
// context lines and a "Terms: a, b, c" vocabulary hint. Empty fields are
// omitted.
func BuildSystemPrompt(instruction string, vctx voice.Context) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = DefaultInstruction
	}

	var sb strings.Builder
	sb.WriteString(instruction)

	var lines []string
	if vctx.AppName != "" {
		lines = append(lines, "Application: "+vctx.AppName)
	}
	if vctx.BundleID != "" {
		lines = append(lines, "Bundle: "+vctx.BundleID)
	}
	if vctx.DocumentType != "" {
		lines = append(lines, "Document type: "+vctx.DocumentType)
	}
	if recent := strings.TrimSpace(vctx.RecentText); recent != "" {
		lines = append(lines, "Recent text: "+recent)
	}
	if len(lines) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(strings.Join(lines, "\n"))
	}

	if terms := cleanTerms(vctx.Vocabulary); len(terms) > 0 {
		sb.WriteString("\n\nTerms: ")
		sb.WriteString(strings.Join(terms, ", "))
	}
	return sb.String()
}

// Correct runs the optional phonetic pre-pass and then [Service.Process]
// with a prompt built from mode and vctx.
func (s *Service) Correct(ctx context.Context, text string, mode voice.Mode, vctx voice.Context) (string, error) {
	if s.phonetic != nil {
		if snapped, reps := s.phonetic.Snap(text, cleanTerms(vctx.Vocabulary)); len(reps) > 0 {
			slog.Debug("correction: vocabulary snapped", "replacements", len(reps))
			text = snapped
		}
	}
	return s.Process(ctx, text, BuildSystemPrompt(mode.SystemPrompt, vctx))
}

// Process sends text with systemPrompt and returns the corrected text.
func (s *Service) Process(ctx context.Context, text, systemPrompt string) (string, error) {
	if s.llm == nil {
		return "", &voice.LLMError{Reason: "no provider configured"}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &voice.LLMError{Reason: "completion", Err: err}
	}

	out := StripMarkdown(resp.Content)
	if out == "" {
		return "", &voice.LLMError{Reason: "empty response"}
	}
	return out, nil
}

// StripMarkdown removes code fences and wrapping quotes some models add around
// their reply.
func StripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```"); ok {
		// Drop an optional language tag on the opening fence.
		if nl := strings.IndexByte(after, '\n'); nl >= 0 && !strings.Contains(after[:nl], " ") {
			after = after[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(after), "```")
		s = strings.TrimSpace(s)
	}
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}} {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			inner := s[len(q[0]) : len(s)-len(q[1])]
			if !strings.Contains(inner, q[0]) {
				s = strings.TrimSpace(inner)
			}
		}
	}
	return s
}

func cleanTerms(vocab []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(vocab))
	for _, v := range vocab {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(v)]; dup {
			continue
		}
		seen[strings.ToLower(v)] = struct{}{}
		out = append(out, v)
	}
	return out
}
