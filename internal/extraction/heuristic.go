package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/finding"
)

// heuristicConfidence is the fixed confidence for pattern-matched
// citations. Well below the auto-approval range: explicit citations are
// reliable to spot but the cited page still needs review.
const heuristicConfidence = 60

// snippetWindow is how many runes of context to keep around a match.
const snippetWindow = 40

// citationPattern recognizes explicit Talmud citations: an optional corpus
// marker (b. Bavli, y. Yerushalmi, m. Mishnah), a capitalized tractate name
// of one or two words, and a folio ("2a", "31b") or chapter:mishnah
// ("1:4") locator.
var citationPattern = regexp.MustCompile(
	`(?:\b[bym]\.\s+)?([A-Z][a-z']+(?:\s[A-Z][a-z']+)?)\s+(\d{1,3}[ab]|\d{1,2}:\d{1,2})\b`)

// Heuristic scans text for explicit Talmud citations. A zero-cost pre-pass
// and a fallback provider for deployments without an LLM endpoint.
type Heuristic struct {
	logger *zap.Logger
}

// NewHeuristic creates a heuristic citation scanner.
func NewHeuristic(logger *zap.Logger) (*Heuristic, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heuristic{logger: logger}, nil
}

// Extract finds explicit citations in span. Each distinct citation yields
// one pending finding with the surrounding text as snippet.
func (h *Heuristic) Extract(_ context.Context, span string, scope string) ([]*finding.Finding, error) {
	if span == "" {
		return nil, ErrEmptySpan
	}

	matches := citationPattern.FindAllStringSubmatchIndex(span, -1)
	if len(matches) == 0 {
		return []*finding.Finding{}, nil
	}

	var findings []*finding.Finding
	seen := make(map[string]bool)
	for _, m := range matches {
		tractate := span[m[2]:m[3]]
		locator := span[m[4]:m[5]]
		source := tractate + " " + locator

		key := strings.ToLower(source)
		if seen[key] {
			continue
		}
		seen[key] = true

		f, err := finding.New(scope, finding.TypeReference, source, contextWindow(span, m[0], m[1]))
		if err != nil {
			continue
		}
		f.Confidence = heuristicConfidence
		f.Justification = fmt.Sprintf("Text cites %s explicitly", source)
		findings = append(findings, f)
	}

	h.logger.Debug("heuristic scan completed",
		zap.String("scope", scope),
		zap.Int("matches", len(matches)),
		zap.Int("findings", len(findings)))

	return findings, nil
}

// contextWindow returns the match plus up to snippetWindow runes of
// surrounding text, trimmed to rune boundaries.
func contextWindow(span string, start, end int) string {
	lo := start
	for n := 0; lo > 0 && n < snippetWindow; n++ {
		_, size := utf8.DecodeLastRuneInString(span[:lo])
		if size == 0 {
			break
		}
		lo -= size
	}
	hi := end
	for n := 0; hi < len(span) && n < snippetWindow; n++ {
		_, size := utf8.DecodeRuneInString(span[hi:])
		if size == 0 {
			break
		}
		hi += size
	}
	return strings.TrimSpace(span[lo:hi])
}

var _ Client = (*Heuristic)(nil)
