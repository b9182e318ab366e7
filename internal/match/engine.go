package match

import (
	"context"
	"sort"
	"strings"

	"github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
)

// Result is the outcome of one anchor recovery attempt. A not-found result
// still carries Method (lost) and Confidence 0 so callers can persist it as
// a normal state transition instead of an error.
type Result struct {
	Found          bool
	StartOffset    int
	EndOffset      int
	ChunkIDs       []string
	PrimaryChunkID string
	Confidence     float64
	Method         domain.RecoveryMethod
}

type Engine struct {
	cfg Config
	log *logger.Logger
}

func NewEngine(cfg Config, log *logger.Logger) *Engine {
	return &Engine{cfg: cfg, log: log.With("component", "match_engine")}
}

// Match re-anchors a captured text anchor against a new document layout.
// Tiers run in order: exact substring, context-window fuzzy over the whole
// document, chunk-bounded fuzzy near the original chunk index. The first
// tier to clear the auto-accept bar wins; otherwise the best scoring
// candidate across tiers is returned if it clears the review threshold,
// and the anchor is reported lost below that.
//
// The fuzzy tiers poll ctx between windows; a deadline surfaces as an
// error so batch callers can demote the item instead of stalling.
func (e *Engine) Match(ctx context.Context, anchor domain.TextAnchor, layout domain.ChunkLayout) (Result, error) {
	text := anchor.OriginalText
	if strings.TrimSpace(text) == "" {
		return e.lost(), nil
	}
	doc := layout.Markdown
	bar := e.cfg.AcceptBar(text)

	if res, ok := e.matchExact(anchor, layout); ok {
		return res, nil
	}

	best := Result{Method: domain.RecoveryLost}
	if !anchor.TextContext.Empty() {
		needle := anchor.TextContext.Before + text + anchor.TextContext.After
		pos, score, err := e.fuzzySearch(ctx, doc, 0, len(doc), needle)
		if err != nil {
			return Result{}, err
		}
		if score > best.Confidence {
			start, end := e.refineOffsets(doc, pos, len(anchor.TextContext.Before), text)
			best = e.locate(layout, start, end, score, domain.RecoveryContext)
		}
		if best.Confidence >= bar {
			return best, nil
		}
	}

	if res, err := e.matchChunkBounded(ctx, anchor, layout); err != nil {
		return Result{}, err
	} else if res.Confidence > best.Confidence {
		best = res
	}

	if best.Confidence >= e.cfg.ReviewThreshold {
		return best, nil
	}
	return e.lost(), nil
}

func (e *Engine) lost() Result {
	return Result{Found: false, Confidence: 0, Method: domain.RecoveryLost}
}

// matchExact implements tier 1. A single occurrence is a certain match.
// Multiple occurrences are scored by how well their surroundings agree
// with the captured context; a clear winner keeps confidence 1.0, while
// truly indistinguishable occurrences fall back to the one nearest the
// old offset at reduced confidence, tagged as a context-tier result.
func (e *Engine) matchExact(anchor domain.TextAnchor, layout domain.ChunkLayout) (Result, bool) {
	occ := allOccurrences(layout.Markdown, anchor.OriginalText)
	switch len(occ) {
	case 0:
		return Result{}, false
	case 1:
		start := occ[0]
		end := start + len(anchor.OriginalText)
		return e.locate(layout, start, end, 1.0, domain.RecoveryExact), true
	}

	if !anchor.TextContext.Empty() {
		scores := make([]float64, len(occ))
		for i, pos := range occ {
			scores[i] = e.contextScore(layout.Markdown, pos, pos+len(anchor.OriginalText), anchor.TextContext)
		}
		bestIdx, margin := bestWithMargin(scores)
		if margin >= e.cfg.AmbiguousMargin {
			start := occ[bestIdx]
			end := start + len(anchor.OriginalText)
			return e.locate(layout, start, end, 1.0, domain.RecoveryExact), true
		}
	}

	// Identical matches with no discriminating context: keep the
	// occurrence closest to where the text used to live, at a
	// confidence low enough to land in the review band.
	start := nearestTo(occ, anchor.StartOffset)
	end := start + len(anchor.OriginalText)
	return e.locate(layout, start, end, e.cfg.AmbiguousConfidence, domain.RecoveryContext), true
}

// matchChunkBounded implements tier 3: a fuzzy search restricted to the
// original chunk index and its neighbors. When the anchor predates
// context capture the raw text is the needle.
func (e *Engine) matchChunkBounded(ctx context.Context, anchor domain.TextAnchor, layout domain.ChunkLayout) (Result, error) {
	if anchor.OriginalChunkIndex < 0 || len(layout.Chunks) == 0 {
		return Result{Method: domain.RecoveryLost}, nil
	}
	lo := anchor.OriginalChunkIndex - e.cfg.ChunkNeighborSpan
	hi := anchor.OriginalChunkIndex + e.cfg.ChunkNeighborSpan
	if lo < 0 {
		lo = 0
	}
	if hi > len(layout.Chunks)-1 {
		hi = len(layout.Chunks) - 1
	}
	if lo > hi {
		return Result{Method: domain.RecoveryLost}, nil
	}
	regionStart := layout.Chunks[lo].StartOffset
	regionEnd := layout.Chunks[hi].EndOffset
	if regionEnd > len(layout.Markdown) {
		regionEnd = len(layout.Markdown)
	}

	needle := anchor.OriginalText
	prefix := 0
	if !anchor.TextContext.Empty() {
		needle = anchor.TextContext.Before + anchor.OriginalText + anchor.TextContext.After
		prefix = len(anchor.TextContext.Before)
	}
	pos, score, err := e.fuzzySearch(ctx, layout.Markdown, regionStart, regionEnd, needle)
	if err != nil {
		return Result{}, err
	}
	if score <= 0 {
		return Result{Method: domain.RecoveryLost}, nil
	}
	start, end := e.refineOffsets(layout.Markdown, pos, prefix, anchor.OriginalText)
	return e.locate(layout, start, end, score, domain.RecoveryChunkBounded), nil
}

// fuzzySearch slides a window of len(needle) over doc[lo:hi) and returns
// the best-scoring window start. A coarse token-overlap pass shortlists
// candidate positions; only those get the full edit-distance ratio.
func (e *Engine) fuzzySearch(ctx context.Context, doc string, lo, hi int, needle string) (int, float64, error) {
	if needle == "" || lo >= hi {
		return 0, 0, nil
	}
	window := len(needle)
	if window > hi-lo {
		window = hi - lo
	}
	coarseStride := window / 2
	if coarseStride < 1 {
		coarseStride = 1
	}
	needleTokens := tokenSet(needle)

	type candidate struct {
		pos   int
		score float64
	}
	var coarse []candidate
	for pos := lo; pos+window <= hi; pos += coarseStride {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		s := tokenOverlap(needleTokens, tokenSet(doc[pos:pos+window]))
		if s >= e.cfg.FloorThreshold*0.5 {
			coarse = append(coarse, candidate{pos: pos, score: s})
		}
	}
	if len(coarse) == 0 {
		// Nothing even roughly similar; scan a handful of evenly
		// spaced windows so short regions still get scored.
		for pos := lo; pos+window <= hi; pos += coarseStride {
			coarse = append(coarse, candidate{pos: pos})
			if len(coarse) >= e.cfg.MaxCandidates {
				break
			}
		}
	}
	sort.Slice(coarse, func(i, j int) bool { return coarse[i].score > coarse[j].score })
	if len(coarse) > e.cfg.MaxCandidates {
		coarse = coarse[:e.cfg.MaxCandidates]
	}

	fineStride := window / 16
	if fineStride < 1 {
		fineStride = 1
	}
	bestPos, bestScore := lo, 0.0
	for _, c := range coarse {
		fineLo := c.pos - coarseStride
		if fineLo < lo {
			fineLo = lo
		}
		fineHi := c.pos + coarseStride
		if fineHi+window > hi {
			fineHi = hi - window
		}
		for pos := fineLo; pos <= fineHi; pos += fineStride {
			if err := ctx.Err(); err != nil {
				return 0, 0, err
			}
			s := Ratio(needle, doc[pos:pos+window])
			if s > bestScore {
				bestPos, bestScore = pos, s
			}
		}
	}
	return bestPos, bestScore, nil
}

// refineOffsets converts a window hit into offsets for the anchor text
// itself. The estimated start is the window position plus the context
// prefix; if the exact text appears within a small slack region around
// the estimate we snap to it, otherwise the estimate stands.
func (e *Engine) refineOffsets(doc string, windowPos, prefixLen int, text string) (int, int) {
	start := windowPos + prefixLen
	if start > len(doc) {
		start = len(doc)
	}
	slack := len(text)/2 + 16
	lo := start - slack
	if lo < 0 {
		lo = 0
	}
	hi := start + slack + len(text)
	if hi > len(doc) {
		hi = len(doc)
	}
	if idx := strings.Index(doc[lo:hi], text); idx >= 0 {
		start = lo + idx
	}
	end := start + len(text)
	if end > len(doc) {
		end = len(doc)
	}
	return start, end
}

// contextScore compares the captured before/after snippets against the
// text actually surrounding [start,end); it is the mean of the two side
// scores, or the single available side when the other snippet is empty.
// Each comparison window matches the snippet's own length (capped at
// ContextRadius) so the ratio measures drift, not length mismatch.
func (e *Engine) contextScore(doc string, start, end int, tc domain.TextContext) float64 {
	var sum float64
	var n int
	if tc.Before != "" {
		span := len(tc.Before)
		if span > e.cfg.ContextRadius {
			span = e.cfg.ContextRadius
		}
		lo := start - span
		if lo < 0 {
			lo = 0
		}
		sum += Ratio(tc.Before, doc[lo:start])
		n++
	}
	if tc.After != "" {
		span := len(tc.After)
		if span > e.cfg.ContextRadius {
			span = e.cfg.ContextRadius
		}
		hi := end + span
		if hi > len(doc) {
			hi = len(doc)
		}
		sum += Ratio(tc.After, doc[end:hi])
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// locate resolves the chunk ids spanned by [start,end). The primary chunk
// is the one containing the start offset; anchors crossing a boundary get
// every overlapping chunk id.
func (e *Engine) locate(layout domain.ChunkLayout, start, end int, confidence float64, method domain.RecoveryMethod) Result {
	res := Result{
		Found:       true,
		StartOffset: start,
		EndOffset:   end,
		Confidence:  confidence,
		Method:      method,
	}
	for _, ch := range layout.ChunksOverlapping(start, end) {
		res.ChunkIDs = append(res.ChunkIDs, ch.ID)
		if res.PrimaryChunkID == "" && ch.StartOffset <= start && start < ch.EndOffset {
			res.PrimaryChunkID = ch.ID
		}
	}
	if res.PrimaryChunkID == "" && len(res.ChunkIDs) > 0 {
		res.PrimaryChunkID = res.ChunkIDs[0]
	}
	return res
}

func allOccurrences(doc, text string) []int {
	var out []int
	from := 0
	for {
		idx := strings.Index(doc[from:], text)
		if idx < 0 {
			return out
		}
		out = append(out, from+idx)
		from += idx + 1
	}
}

// bestWithMargin returns the index of the highest score and its gap to
// the runner-up. A single score has an unbounded margin.
func bestWithMargin(scores []float64) (int, float64) {
	bestIdx := 0
	for i, s := range scores {
		if s > scores[bestIdx] {
			bestIdx = i
		}
	}
	if len(scores) == 1 {
		return bestIdx, 1.0
	}
	second := -1.0
	for i, s := range scores {
		if i != bestIdx && s > second {
			second = s
		}
	}
	return bestIdx, scores[bestIdx] - second
}

func nearestTo(positions []int, target int) int {
	best := positions[0]
	for _, p := range positions[1:] {
		if abs(p-target) < abs(best-target) {
			best = p
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
