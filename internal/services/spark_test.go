package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/rhizomelab/rhizome-backend/internal/ecs"
)

func TestSparkFreeFloating(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewSparkService(store, log, 10)
	owner := uuid.New()

	sp, err := svc.Create(context.Background(), owner, CreateSparkInput{
		Kind: "question",
		Note: "how does chunking interact with recovery?",
		Tags: []string{"recovery"},
	})
	if err != nil {
		t.Fatalf("create spark: %v", err)
	}
	if sp.Anchored {
		t.Fatalf("free spark reported as anchored")
	}
	if sp.Recovery != nil {
		t.Fatalf("free spark should carry no recovery state")
	}
	if sp.Note != "how does chunking interact with recovery?" {
		t.Fatalf("note lost: %q", sp.Note)
	}
}

func TestSparkAnchored(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewSparkService(store, log, 10)
	owner, docID := uuid.New(), uuid.New()

	sp, err := svc.Create(context.Background(), owner, CreateSparkInput{
		Note:        "the fox metaphor recurs",
		DocumentID:  &docID,
		StartOffset: 16,
		EndOffset:   19,
		Markdown:    annotationDoc,
	})
	if err != nil {
		t.Fatalf("create anchored spark: %v", err)
	}
	if !sp.Anchored || sp.DocumentID != docID {
		t.Fatalf("anchor not recorded: %+v", sp)
	}
	if sp.OriginalText != "fox" {
		t.Fatalf("expected captured text %q, got %q", "fox", sp.OriginalText)
	}
	if sp.Recovery == nil || sp.Recovery.RecoveryConfidence != 1.0 {
		t.Fatalf("fresh anchored spark should be fully trusted: %+v", sp.Recovery)
	}

	byDoc, err := svc.GetByDocument(context.Background(), owner, docID)
	if err != nil {
		t.Fatalf("get by document: %v", err)
	}
	if len(byDoc) != 1 || byDoc[0].EntityID != sp.EntityID {
		t.Fatalf("expected one spark for the document, got %d", len(byDoc))
	}
}

func TestSparkAnchorValidation(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewSparkService(store, log, 10)
	owner, docID := uuid.New(), uuid.New()

	_, err := svc.Create(context.Background(), owner, CreateSparkInput{
		Note:        "bad anchor",
		DocumentID:  &docID,
		StartOffset: 19,
		EndOffset:   16,
		Markdown:    annotationDoc,
	})
	if !errors.Is(err, ecs.ErrValidation) {
		t.Fatalf("expected validation error for inverted offsets, got %v", err)
	}
}

func TestSparkUpdateAndGetAll(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewSparkService(store, log, 10)
	owner := uuid.New()

	free, err := svc.Create(context.Background(), owner, CreateSparkInput{Note: "one"})
	if err != nil {
		t.Fatalf("create spark: %v", err)
	}
	docID := uuid.New()
	if _, err := svc.Create(context.Background(), owner, CreateSparkInput{
		Note:        "two",
		DocumentID:  &docID,
		StartOffset: 4,
		EndOffset:   9,
		Markdown:    annotationDoc,
	}); err != nil {
		t.Fatalf("create spark: %v", err)
	}

	kind, note := "idea", "revised"
	updated, err := svc.Update(context.Background(), owner, free.EntityID, UpdateSparkInput{Kind: &kind, Note: &note})
	if err != nil {
		t.Fatalf("update spark: %v", err)
	}
	if updated.Kind != "idea" || updated.Note != "revised" {
		t.Fatalf("update not applied: %+v", updated)
	}

	all, err := svc.GetAll(context.Background(), owner)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sparks, got %d", len(all))
	}

	stranger := uuid.New()
	none, err := svc.GetAll(context.Background(), stranger)
	if err != nil {
		t.Fatalf("get all for stranger: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("stranger sees %d sparks", len(none))
	}
}
