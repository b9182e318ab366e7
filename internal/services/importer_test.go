package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/match"
)

func importFixture(t *testing.T) (ImportService, AnnotationService) {
	t.Helper()
	_, store, log := serviceFixture(t)
	cfg := match.LoadConfigFromEnv()
	engine := match.NewEngine(cfg, log)
	return NewImportService(store, log, engine, cfg), NewAnnotationService(store, log, cfg.ContextRadius)
}

func importLayout(docID uuid.UUID) types.ChunkLayout {
	md := strings.Join([]string{
		"Chapter one opens with the harbor at dawn, gulls over the grey water.",
		"The narrator walks the length of the pier and counts the moored boats.",
		"By evening the fog has swallowed the lighthouse and the town is quiet.",
	}, " ")
	third := len(md) / 3
	return types.ChunkLayout{
		DocumentID: docID,
		Markdown:   md,
		Chunks: []types.Chunk{
			{ID: "c0", ChunkIndex: 0, StartOffset: 0, EndOffset: third, Content: md[:third]},
			{ID: "c1", ChunkIndex: 1, StartOffset: third, EndOffset: 2 * third, Content: md[third : 2*third]},
			{ID: "c2", ChunkIndex: 2, StartOffset: 2 * third, EndOffset: len(md), Content: md[2*third:]},
		},
	}
}

func TestImportExactHighlight(t *testing.T) {
	svc, anns := importFixture(t)
	owner, docID := uuid.New(), uuid.New()
	layout := importLayout(docID)

	results, err := svc.ImportHighlights(context.Background(), owner, layout, []HighlightRecord{
		{Text: "gulls over the grey water", Location: 0.1},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	res := results[0]
	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if res.Method != types.RecoveryExact || res.Confidence != 1.0 || res.NeedsReview {
		t.Fatalf("expected a clean exact placement, got %+v", res)
	}

	ann, err := anns.Get(context.Background(), owner, res.EntityID)
	if err != nil {
		t.Fatalf("get imported annotation: %v", err)
	}
	want := strings.Index(layout.Markdown, "gulls over the grey water")
	if ann.StartOffset != want {
		t.Fatalf("expected start %d, got %d", want, ann.StartOffset)
	}
	if ann.OriginalText != "gulls over the grey water" {
		t.Fatalf("original text lost: %q", ann.OriginalText)
	}
	if len(ann.ChunkIDs) == 0 {
		t.Fatalf("imported annotation has no chunk reference")
	}
}

func TestImportLostHighlightParksAtEstimate(t *testing.T) {
	svc, anns := importFixture(t)
	owner, docID := uuid.New(), uuid.New()
	layout := importLayout(docID)

	results, err := svc.ImportHighlights(context.Background(), owner, layout, []HighlightRecord{
		{Text: "completely unrelated sentence about quantum chromodynamics", Location: 0.5},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	res := results[0]
	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if res.Method != types.RecoveryLost || !res.NeedsReview || res.Confidence != 0 {
		t.Fatalf("expected a lost record flagged for review, got %+v", res)
	}

	// The entity still exists, parked near the location estimate.
	ann, err := anns.Get(context.Background(), owner, res.EntityID)
	if err != nil {
		t.Fatalf("lost import should still create an entity: %v", err)
	}
	if ann.Recovery.RecoveryMethod != types.RecoveryLost || !ann.Recovery.NeedsReview {
		t.Fatalf("persisted state disagrees with the result: %+v", ann.Recovery)
	}
	if ann.PrimaryChunkID != "c1" {
		t.Fatalf("expected the estimate's chunk c1, got %q", ann.PrimaryChunkID)
	}
}

func TestImportMixedBatch(t *testing.T) {
	svc, _ := importFixture(t)
	owner, docID := uuid.New(), uuid.New()
	layout := importLayout(docID)

	results, err := svc.ImportHighlights(context.Background(), owner, layout, []HighlightRecord{
		{Text: "counts the moored boats", Location: 0.5},
		{Text: "   ", Location: 0.2},
		{Text: "the fog has swallowed the lighthouse", Location: -1},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Method != types.RecoveryExact {
		t.Fatalf("record 0: expected exact, got %+v", results[0])
	}
	if results[1].Err == "" {
		t.Fatalf("record 1: blank text should be reported as an error")
	}
	// Unknown location still finds the text via the exact scan.
	if results[2].Method != types.RecoveryExact {
		t.Fatalf("record 2: expected exact despite missing location, got %+v", results[2])
	}
}

func TestImportRejectsInvalidLayout(t *testing.T) {
	svc, _ := importFixture(t)
	owner := uuid.New()

	_, err := svc.ImportHighlights(context.Background(), owner, types.ChunkLayout{}, nil)
	if err == nil {
		t.Fatalf("expected an error for an empty layout")
	}
}
