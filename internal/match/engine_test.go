package match

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewEngine(LoadConfigFromEnv(), log)
}

// singleChunkLayout wraps markdown in one chunk covering the whole text.
func singleChunkLayout(markdown string) domain.ChunkLayout {
	return domain.ChunkLayout{
		DocumentID: uuid.New(),
		Markdown:   markdown,
		Chunks: []domain.Chunk{
			{ID: "c0", ChunkIndex: 0, StartOffset: 0, EndOffset: len(markdown), Content: markdown},
		},
	}
}

func evenChunkLayout(markdown string, chunkSize int) domain.ChunkLayout {
	l := domain.ChunkLayout{DocumentID: uuid.New(), Markdown: markdown}
	for i, start := 0, 0; start < len(markdown); i, start = i+1, start+chunkSize {
		end := start + chunkSize
		if end > len(markdown) {
			end = len(markdown)
		}
		l.Chunks = append(l.Chunks, domain.Chunk{
			ID:          fmt.Sprintf("c%d", i),
			ChunkIndex:  i,
			StartOffset: start,
			EndOffset:   end,
			Content:     markdown[start:end],
		})
	}
	return l
}

func TestMatchExactUnchangedDocument(t *testing.T) {
	e := testEngine(t)
	doc := "The quick brown fox jumps over the lazy dog."
	anchor := domain.TextAnchor{
		StartOffset:  4,
		EndOffset:    9,
		OriginalText: "quick",
		TextContext:  domain.TextContext{Before: "The ", After: " brown fox"},
	}
	res, err := e.Match(context.Background(), anchor, singleChunkLayout(doc))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !res.Found || res.Method != domain.RecoveryExact || res.Confidence != 1.0 {
		t.Fatalf("expected exact match at full confidence, got %+v", res)
	}
	if res.StartOffset != 4 || res.EndOffset != 9 {
		t.Fatalf("expected offsets unchanged [4,9), got [%d,%d)", res.StartOffset, res.EndOffset)
	}
	if res.PrimaryChunkID != "c0" {
		t.Fatalf("expected primary chunk c0, got %q", res.PrimaryChunkID)
	}
}

func TestMatchExactAfterPrefixInsert(t *testing.T) {
	e := testEngine(t)
	doc := "# The quick brown fox jumps over the lazy dog."
	anchor := domain.TextAnchor{
		StartOffset:  4,
		EndOffset:    9,
		OriginalText: "quick",
		TextContext:  domain.TextContext{Before: "The ", After: " brown fox"},
	}
	res, err := e.Match(context.Background(), anchor, singleChunkLayout(doc))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Method != domain.RecoveryExact || res.Confidence != 1.0 {
		t.Fatalf("expected exact match, got %+v", res)
	}
	if res.StartOffset != 6 || res.EndOffset != 11 {
		t.Fatalf("expected shifted offsets [6,11), got [%d,%d)", res.StartOffset, res.EndOffset)
	}
}

func TestMatchAmbiguousExactDisambiguatedByContext(t *testing.T) {
	e := testEngine(t)
	doc := "Schroedinger kept a cat in a box. Later that night the cat escaped quietly."
	first := strings.Index(doc, "cat")
	second := strings.Index(doc[first+1:], "cat") + first + 1
	anchor := domain.TextAnchor{
		StartOffset:  second,
		EndOffset:    second + 3,
		OriginalText: "cat",
		TextContext:  domain.TextContext{Before: "that night the ", After: " escaped quietly"},
	}
	res, err := e.Match(context.Background(), anchor, singleChunkLayout(doc))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Method != domain.RecoveryExact || res.Confidence != 1.0 {
		t.Fatalf("expected disambiguated exact match, got %+v", res)
	}
	if res.StartOffset != second {
		t.Fatalf("expected second occurrence at %d, got %d", second, res.StartOffset)
	}
}

func TestMatchAmbiguousExactWithoutContext(t *testing.T) {
	e := testEngine(t)
	doc := "alpha beta alpha beta alpha"
	anchor := domain.TextAnchor{
		StartOffset:  11,
		EndOffset:    16,
		OriginalText: "alpha",
	}
	res, err := e.Match(context.Background(), anchor, singleChunkLayout(doc))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Method != domain.RecoveryContext {
		t.Fatalf("expected ambiguity to demote to context method, got %+v", res)
	}
	if res.Confidence != e.cfg.AmbiguousConfidence {
		t.Fatalf("expected reduced confidence %v, got %v", e.cfg.AmbiguousConfidence, res.Confidence)
	}
	if res.StartOffset != 11 {
		t.Fatalf("expected occurrence nearest old offset (11), got %d", res.StartOffset)
	}
}

func TestMatchContextTierSurvivesSmallEdit(t *testing.T) {
	e := testEngine(t)
	old := "Mitochondria are the powerhouse of the cell, converting nutrients into usable chemical energy for the organism."
	anchored := "powerhouse of the cell"
	start := strings.Index(old, anchored)
	anchor := domain.TextAnchor{
		StartOffset:  start,
		EndOffset:    start + len(anchored),
		OriginalText: anchored,
		TextContext: domain.TextContext{
			Before: "Mitochondria are the ",
			After:  ", converting nutrients into",
		},
	}
	// Same passage, lightly reworded around the anchor.
	doc := "An intro paragraph comes first.\n\nMitochondria are the powerhous of the cell, converting nutrient into usable chemical energy."
	res, err := e.Match(context.Background(), anchor, singleChunkLayout(doc))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !res.Found || res.Method != domain.RecoveryContext {
		t.Fatalf("expected context-tier match, got %+v", res)
	}
	if res.Confidence < e.cfg.ReviewThreshold {
		t.Fatalf("expected confidence above review threshold, got %v", res.Confidence)
	}
	wantStart := strings.Index(doc, "powerhous of the cell")
	if res.StartOffset < wantStart-8 || res.StartOffset > wantStart+8 {
		t.Fatalf("expected start near %d, got %d", wantStart, res.StartOffset)
	}
}

func TestMatchTotalLoss(t *testing.T) {
	e := testEngine(t)
	doc := "Completely unrelated material about orbital mechanics and delta-v budgets."
	anchor := domain.TextAnchor{
		StartOffset:  0,
		EndOffset:    24,
		OriginalText: "fermentation temperature",
		TextContext:  domain.TextContext{Before: "control the ", After: " during the first week"},
	}
	res, err := e.Match(context.Background(), anchor, singleChunkLayout(doc))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Found || res.Method != domain.RecoveryLost || res.Confidence != 0 {
		t.Fatalf("expected lost with zero confidence, got %+v", res)
	}
}

func TestMatchEmptyOriginalText(t *testing.T) {
	e := testEngine(t)
	res, err := e.Match(context.Background(), domain.TextAnchor{OriginalText: "   "}, singleChunkLayout("some document"))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Found || res.Method != domain.RecoveryLost {
		t.Fatalf("expected lost for blank anchor, got %+v", res)
	}
}

func TestMatchMissingContextFallsBackToChunkTier(t *testing.T) {
	e := testEngine(t)
	// The anchored sentence drifted slightly, so the exact tier misses,
	// and with no captured context only the chunk tier can find it.
	doc := strings.Repeat("filler sentence one. ", 10) +
		"The annotated pasage lives here in the middle chunk. " +
		strings.Repeat("filler sentence two. ", 10)
	layout := evenChunkLayout(doc, 120)
	target := "The annotated pasage lives here"
	pos := strings.Index(doc, "The annotated")
	var idx int
	for i, c := range layout.Chunks {
		if c.StartOffset <= pos && pos < c.EndOffset {
			idx = i
			break
		}
	}
	anchor := domain.TextAnchor{
		StartOffset:        pos,
		EndOffset:          pos + len(target),
		OriginalText:       "The annotated passage lives here",
		OriginalChunkIndex: idx,
	}
	res, err := e.Match(context.Background(), anchor, layout)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !res.Found || res.Method != domain.RecoveryChunkBounded {
		t.Fatalf("expected chunk-bounded match, got %+v", res)
	}
	if res.Confidence < e.cfg.ReviewThreshold {
		t.Fatalf("expected confidence above review threshold, got %v", res.Confidence)
	}
}

func TestMatchSpanningChunkBoundary(t *testing.T) {
	e := testEngine(t)
	doc := strings.Repeat("a", 95) + " straddling phrase here " + strings.Repeat("b", 95)
	layout := evenChunkLayout(doc, 100)
	target := "straddling phrase here"
	start := strings.Index(doc, target)
	anchor := domain.TextAnchor{
		StartOffset:  start,
		EndOffset:    start + len(target),
		OriginalText: target,
	}
	res, err := e.Match(context.Background(), anchor, layout)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(res.ChunkIDs) < 2 {
		t.Fatalf("expected anchor to span multiple chunks, got %v", res.ChunkIDs)
	}
	if res.PrimaryChunkID != "c0" {
		t.Fatalf("expected primary chunk c0 (contains start), got %q", res.PrimaryChunkID)
	}
}

func TestMatchConfidenceMonotonicity(t *testing.T) {
	e := testEngine(t)
	passage := "the theory of general relativity describes gravitation"
	anchor := domain.TextAnchor{
		StartOffset:  0,
		EndOffset:    len(passage),
		OriginalText: passage,
		TextContext:  domain.TextContext{Before: "In 1915 ", After: " as spacetime curvature"},
	}
	// Both documents move the passage; the second also mutates it, so
	// the exact tier misses in both and the context tier decides.
	moved := "A new preamble was added. In 1915 " +
		strings.Replace(passage, "describes", "descrbes", 1) + " as spacetime curvature."
	drifted := strings.Replace(moved, "general relativity", "generel relativvity", 1)

	resMoved, err := e.Match(context.Background(), anchor, singleChunkLayout(moved))
	if err != nil {
		t.Fatalf("match moved: %v", err)
	}
	resDrift, err := e.Match(context.Background(), anchor, singleChunkLayout(drifted))
	if err != nil {
		t.Fatalf("match drifted: %v", err)
	}
	if resMoved.Confidence < resDrift.Confidence {
		t.Fatalf("substitutions raised confidence: moved=%v drifted=%v", resMoved.Confidence, resDrift.Confidence)
	}
}

func TestMatchHonorsCancellation(t *testing.T) {
	e := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc := strings.Repeat("lorem ipsum dolor sit amet consectetur. ", 200)
	anchor := domain.TextAnchor{
		StartOffset:  0,
		EndOffset:    10,
		OriginalText: "dolor sit amet adipiscing",
		TextContext:  domain.TextContext{Before: "lorem ipsum ", After: " consectetur"},
	}
	if _, err := e.Match(ctx, anchor, singleChunkLayout(doc)); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}

func TestRatioProperties(t *testing.T) {
	if got := Ratio("same text", "same   text"); got != 1.0 {
		t.Fatalf("whitespace reflow should score 1.0, got %v", got)
	}
	if got := Ratio("", ""); got != 1.0 {
		t.Fatalf("two empty strings should score 1.0, got %v", got)
	}
	if got := Ratio("abc", "xyz"); got != 0 {
		t.Fatalf("disjoint strings should score 0, got %v", got)
	}
	close := Ratio("the quick brown fox", "the quick brown fax")
	far := Ratio("the quick brown fox", "the quack brawn fax")
	if close <= far {
		t.Fatalf("more edits should score lower: close=%v far=%v", close, far)
	}
}
