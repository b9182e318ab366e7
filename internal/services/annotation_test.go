package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rhizomelab/rhizome-backend/internal/data/repos/testutil"
	"github.com/rhizomelab/rhizome-backend/internal/ecs"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
)

const annotationDoc = "The quick brown fox jumps over the lazy dog near the river bank."

func serviceFixture(t *testing.T) (*gorm.DB, *ecs.Store, *logger.Logger) {
	t.Helper()
	tx := testutil.Tx(t, testutil.DB(t))
	log := testutil.Logger(t)
	return tx, ecs.NewStore(tx, log), log
}

func createTestAnnotation(t *testing.T, svc AnnotationService, owner, docID uuid.UUID, start, end int) *Annotation {
	t.Helper()
	ann, err := svc.Create(context.Background(), owner, CreateAnnotationInput{
		DocumentID:     docID,
		StartOffset:    start,
		EndOffset:      end,
		Markdown:       annotationDoc,
		ChunkIndex:     0,
		ChunkIDs:       []string{"chunk-0"},
		PrimaryChunkID: "chunk-0",
		Color:          "yellow",
	})
	if err != nil {
		t.Fatalf("create annotation: %v", err)
	}
	return ann
}

func TestAnnotationCreateCapturesAnchor(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewAnnotationService(store, log, 10)
	owner, docID := uuid.New(), uuid.New()

	ann := createTestAnnotation(t, svc, owner, docID, 4, 9)
	if ann.OriginalText != "quick" {
		t.Fatalf("expected original text %q, got %q", "quick", ann.OriginalText)
	}
	if ann.Recovery.RecoveryConfidence != 1.0 || ann.Recovery.NeedsReview {
		t.Fatalf("fresh annotation should be fully trusted: %+v", ann.Recovery)
	}
	if ann.PrimaryChunkID != "chunk-0" {
		t.Fatalf("expected primary chunk chunk-0, got %q", ann.PrimaryChunkID)
	}

	got, err := svc.Get(context.Background(), owner, ann.EntityID)
	if err != nil {
		t.Fatalf("get annotation: %v", err)
	}
	if got.StartOffset != 4 || got.EndOffset != 9 {
		t.Fatalf("expected offsets [4,9), got [%d,%d)", got.StartOffset, got.EndOffset)
	}
}

func TestAnnotationCreateRejectsBadOffsets(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewAnnotationService(store, log, 10)
	owner, docID := uuid.New(), uuid.New()

	cases := []struct{ start, end int }{
		{-1, 5},
		{9, 4},
		{4, 4},
		{0, len(annotationDoc) + 1},
	}
	for _, tc := range cases {
		_, err := svc.Create(context.Background(), owner, CreateAnnotationInput{
			DocumentID:     docID,
			StartOffset:    tc.start,
			EndOffset:      tc.end,
			Markdown:       annotationDoc,
			ChunkIDs:       []string{"chunk-0"},
			PrimaryChunkID: "chunk-0",
			Color:          "yellow",
		})
		if !errors.Is(err, ecs.ErrValidation) {
			t.Fatalf("offsets [%d,%d): expected validation error, got %v", tc.start, tc.end, err)
		}
	}
}

func TestAnnotationUpdate(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewAnnotationService(store, log, 10)
	owner, docID := uuid.New(), uuid.New()
	ann := createTestAnnotation(t, svc, owner, docID, 4, 9)

	color, note := "green", "revisited"
	updated, err := svc.Update(context.Background(), owner, ann.EntityID, UpdateAnnotationInput{
		Color: &color,
		Note:  &note,
	})
	if err != nil {
		t.Fatalf("update annotation: %v", err)
	}
	if updated.Color != "green" || updated.Note != "revisited" {
		t.Fatalf("update not applied: color=%q note=%q", updated.Color, updated.Note)
	}
	// Untouched fields survive.
	if updated.OriginalText != "quick" {
		t.Fatalf("position changed by a visual update: %q", updated.OriginalText)
	}
}

func TestAnnotationGetInRange(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewAnnotationService(store, log, 10)
	owner, docID := uuid.New(), uuid.New()

	a := createTestAnnotation(t, svc, owner, docID, 4, 9)   // "quick"
	b := createTestAnnotation(t, svc, owner, docID, 16, 19) // "fox"
	_ = b

	inRange, err := svc.GetInRange(context.Background(), owner, docID, 0, 10)
	if err != nil {
		t.Fatalf("get in range: %v", err)
	}
	if len(inRange) != 1 || inRange[0].EntityID != a.EntityID {
		t.Fatalf("expected only the first annotation in [0,10), got %d", len(inRange))
	}

	// Touching endpoints do not intersect a half-open range.
	touching, err := svc.GetInRange(context.Background(), owner, docID, 9, 16)
	if err != nil {
		t.Fatalf("get in range: %v", err)
	}
	if len(touching) != 0 {
		t.Fatalf("expected no annotations touching [9,16), got %d", len(touching))
	}

	both, err := svc.GetInRange(context.Background(), owner, docID, 5, 17)
	if err != nil {
		t.Fatalf("get in range: %v", err)
	}
	if len(both) != 2 {
		t.Fatalf("expected both annotations in [5,17), got %d", len(both))
	}
}

func TestAnnotationDeleteAndOwnership(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewAnnotationService(store, log, 10)
	owner, stranger, docID := uuid.New(), uuid.New(), uuid.New()
	ann := createTestAnnotation(t, svc, owner, docID, 4, 9)

	if err := svc.Delete(context.Background(), stranger, ann.EntityID); !errors.Is(err, ecs.ErrForbidden) {
		t.Fatalf("expected forbidden for stranger delete, got %v", err)
	}
	if err := svc.Delete(context.Background(), owner, ann.EntityID); err != nil {
		t.Fatalf("delete annotation: %v", err)
	}
	if _, err := svc.Get(context.Background(), owner, ann.EntityID); !errors.Is(err, ecs.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
