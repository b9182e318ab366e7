package match

import (
	"github.com/rhizomelab/rhizome-backend/internal/platform/envutil"
)

type Config struct {
	// AcceptThreshold is the auto-accept floor; matches at or above it
	// need no human review.
	AcceptThreshold float64
	// ShortTextThreshold replaces AcceptThreshold for anchors shorter
	// than ShortTextWords words, where spurious matches are cheap.
	ShortTextThreshold float64
	// ReviewThreshold is the lowest similarity the engine will report as
	// a match at all; anything below it is lost.
	ReviewThreshold float64
	// FloorThreshold gates the coarse candidate pass in the fuzzy tiers.
	FloorThreshold float64
	// AmbiguousMargin is the minimum context-score gap between the best
	// and second-best exact occurrence for tier-1 disambiguation.
	AmbiguousMargin float64
	// AmbiguousConfidence is assigned when identical exact matches cannot
	// be told apart and the engine falls back to the nearest occurrence.
	AmbiguousConfidence float64

	ShortTextWords int
	// ContextRadius is how many bytes of surrounding text are compared
	// against the captured before/after snippets.
	ContextRadius int
	// ChunkNeighborSpan widens the chunk-bounded tier to index±span.
	ChunkNeighborSpan int
	// MaxCandidates caps how many coarse windows survive to the fine
	// Levenshtein pass.
	MaxCandidates int
}

func LoadConfigFromEnv() Config {
	return Config{
		AcceptThreshold:     envutil.Float("MATCH_ACCEPT_THRESHOLD", 0.85),
		ShortTextThreshold:  envutil.Float("MATCH_SHORT_TEXT_THRESHOLD", 0.90),
		ReviewThreshold:     envutil.Float("MATCH_REVIEW_THRESHOLD", 0.70),
		FloorThreshold:      envutil.Float("MATCH_FLOOR_THRESHOLD", 0.30),
		AmbiguousMargin:     envutil.Float("MATCH_AMBIGUOUS_MARGIN", 0.05),
		AmbiguousConfidence: envutil.Float("MATCH_AMBIGUOUS_CONFIDENCE", 0.75),
		ShortTextWords:      envutil.Int("MATCH_SHORT_TEXT_WORDS", 5),
		ContextRadius:       envutil.Int("MATCH_CONTEXT_RADIUS", 100),
		ChunkNeighborSpan:   envutil.Int("MATCH_CHUNK_NEIGHBOR_SPAN", 1),
		MaxCandidates:       envutil.Int("MATCH_MAX_CANDIDATES", 8),
	}
}

// AcceptBar is the auto-accept threshold for a given anchor text; short
// anchors carry the stricter bar.
func (c Config) AcceptBar(text string) float64 {
	if wordCount(text) < c.ShortTextWords {
		return c.ShortTextThreshold
	}
	return c.AcceptThreshold
}
