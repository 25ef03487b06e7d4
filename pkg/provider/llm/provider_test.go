package llm_test

import (
	"testing"

	"github.com/MrWong99/voxpipe/pkg/provider/llm"
)

func TestKnownCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model     string
		window    int
		maxOutput int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"GPT-4o", 128_000, 16_384},
		{"gpt-4-turbo", 128_000, 4_096},
		{"gpt-4", 8_192, 4_096},
		{"gpt-3.5-turbo", 16_385, 4_096},
		{"o3-mini", 200_000, 100_000},
		{"claude-3-5-haiku-latest", 200_000, 8_192},
		{"gemini-2.0-flash", 1_000_000, 8_192},
		{"llama3.2", 128_000, 4_096},
	}
	for _, tt := range tests {
		got := llm.KnownCapabilities(tt.model)
		if got.ContextWindow != tt.window || got.MaxOutputTokens != tt.maxOutput {
			t.Errorf("KnownCapabilities(%q) = %+v, want {%d %d}", tt.model, got, tt.window, tt.maxOutput)
		}
	}
}
