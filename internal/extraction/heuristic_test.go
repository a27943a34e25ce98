package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/finding"
)

func newTestHeuristic(t *testing.T) *Heuristic {
	t.Helper()
	h, err := NewHeuristic(zap.NewNop())
	require.NoError(t, err)
	return h
}

func TestHeuristicExtractCitations(t *testing.T) {
	h := newTestHeuristic(t)

	tests := []struct {
		name        string
		span        string
		wantSources []string
	}{
		{
			name:        "bare folio citation",
			span:        "This formulation echoes Berakhot 2a on the evening Shema.",
			wantSources: []string{"Berakhot 2a"},
		},
		{
			name:        "corpus marker citation",
			span:        "Compare b. Shabbat 31a, where Hillel answers the convert.",
			wantSources: []string{"Shabbat 31a"},
		},
		{
			name:        "two-word tractate",
			span:        "The oven of Akhnai appears in Bava Metzia 59b.",
			wantSources: []string{"Bava Metzia 59b"},
		},
		{
			name:        "mishnah locator",
			span:        "As taught in m. Avot 1:4 regarding the sages of Jerusalem.",
			wantSources: []string{"Avot 1:4"},
		},
		{
			name:        "multiple distinct citations",
			span:        "He cites Berakhot 2a and later Sukkah 28a in the same chapter.",
			wantSources: []string{"Berakhot 2a", "Sukkah 28a"},
		},
		{
			name:        "no citation",
			span:        "A passage with nothing resembling a citation at all.",
			wantSources: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := h.Extract(context.Background(), tt.span, "rivka")
			require.NoError(t, err)

			var sources []string
			for _, f := range findings {
				sources = append(sources, f.Source)
			}
			assert.Equal(t, tt.wantSources, sources)
		})
	}
}

func TestHeuristicFindingShape(t *testing.T) {
	h := newTestHeuristic(t)

	findings, err := h.Extract(context.Background(), "He quotes Berakhot 2a verbatim here.", "rivka")
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, finding.TypeReference, f.Type)
	assert.Equal(t, finding.StatusPending, f.Status)
	assert.Equal(t, float64(heuristicConfidence), f.Confidence)
	assert.False(t, f.IsGroundTruth)
	assert.Contains(t, f.Snippet, "Berakhot 2a")
	assert.Contains(t, f.Justification, "Berakhot 2a")
}

func TestHeuristicDeduplicatesRepeatedCitations(t *testing.T) {
	h := newTestHeuristic(t)

	findings, err := h.Extract(context.Background(),
		"Berakhot 2a is cited twice: once early, later as Berakhot 2a again.", "rivka")
	require.NoError(t, err)
	assert.Len(t, findings, 1)
}

func TestHeuristicEmptySpan(t *testing.T) {
	h := newTestHeuristic(t)

	_, err := h.Extract(context.Background(), "", "rivka")
	require.ErrorIs(t, err, ErrEmptySpan)
}

func TestParseFindings(t *testing.T) {
	content := "```json\n" + `[
		{
			"type": "reference",
			"source": "Berakhot 2a",
			"snippet": "recites the Shema in the evening",
			"confidence": 88,
			"justification": "Direct quotation of the opening mishnah.",
			"alternatives": [
				{"source": "Berakhot 2b", "reasoning": "continuation of the passage", "score": 0.4}
			]
		},
		{
			"type": "unknown_kind",
			"source": "Sukkah 28a",
			"snippet": "the smallest of them all",
			"confidence": 150
		},
		{
			"type": "reference",
			"source": "",
			"snippet": "missing source is dropped"
		}
	]` + "\n```"

	findings, err := parseFindings(content, "rivka")
	require.NoError(t, err)
	require.Len(t, findings, 2)

	first := findings[0]
	assert.Equal(t, finding.TypeReference, first.Type)
	assert.Equal(t, "Berakhot 2a", first.Source)
	assert.Equal(t, 88.0, first.Confidence)
	require.Len(t, first.Alternatives, 1)
	assert.Equal(t, "Berakhot 2b", first.Alternatives[0].Source)

	// Unknown types fall back to reference; confidence is clamped.
	second := findings[1]
	assert.Equal(t, finding.TypeReference, second.Type)
	assert.Equal(t, 100.0, second.Confidence)
}

func TestParseFindingsInvalidJSON(t *testing.T) {
	_, err := parseFindings("the model rambled instead of returning JSON", "rivka")
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestNewClientFactory(t *testing.T) {
	client, err := NewClient(Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Heuristic{}, client)

	_, err = NewClient(Config{Provider: "openai"}, zap.NewNop())
	require.ErrorIs(t, err, ErrNoAPIKey)

	client, err = NewClient(Config{Provider: "openai", APIKey: "sk-test"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, client)

	_, err = NewClient(Config{Provider: "gemini"}, zap.NewNop())
	require.Error(t, err)
}
