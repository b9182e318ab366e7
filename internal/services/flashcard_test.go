package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/ecs"
)

func createTestCard(t *testing.T, svc FlashcardService, owner uuid.UUID) *Flashcard {
	t.Helper()
	card, err := svc.Create(context.Background(), owner, CreateFlashcardInput{
		Question: "What anchors an annotation to text?",
		Answer:   "A position component with offsets, original text, and context.",
	})
	if err != nil {
		t.Fatalf("create flashcard: %v", err)
	}
	return card
}

func TestFlashcardDraftCarriesNoSchedule(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewFlashcardService(store, log)
	owner := uuid.New()

	card := createTestCard(t, svc, owner)
	if card.Status != types.CardDraft {
		t.Fatalf("new card should be a draft, got %q", card.Status)
	}
	if card.SRS != nil {
		t.Fatalf("draft card should carry no schedule")
	}
}

func TestFlashcardApproveSeedsSchedule(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewFlashcardService(store, log)
	owner := uuid.New()
	card := createTestCard(t, svc, owner)

	approved, err := svc.Approve(context.Background(), owner, card.EntityID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != types.CardActive {
		t.Fatalf("expected active after approve, got %q", approved.Status)
	}
	if approved.SRS == nil || approved.SRS.State != "new" {
		t.Fatalf("approve should seed a fresh schedule: %+v", approved.SRS)
	}

	// Approving twice is a state machine violation.
	if _, err := svc.Approve(context.Background(), owner, card.EntityID); !errors.Is(err, ecs.ErrValidation) {
		t.Fatalf("expected validation error on double approve, got %v", err)
	}
}

func TestFlashcardReviewAdvancesSchedule(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewFlashcardService(store, log)
	owner := uuid.New()
	card := createTestCard(t, svc, owner)

	if _, err := svc.Review(context.Background(), owner, card.EntityID, 3, time.Now()); !errors.Is(err, ecs.ErrValidation) {
		t.Fatalf("reviewing a draft should fail, got %v", err)
	}

	if _, err := svc.Approve(context.Background(), owner, card.EntityID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	now := time.Now()
	reviewed, err := svc.Review(context.Background(), owner, card.EntityID, 3, now)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.SRS == nil {
		t.Fatalf("reviewed card lost its schedule")
	}
	if reviewed.SRS.Reps != 1 {
		t.Fatalf("expected 1 rep after first review, got %d", reviewed.SRS.Reps)
	}
	if !reviewed.SRS.Due.After(now) {
		t.Fatalf("next due %v should be after the review time %v", reviewed.SRS.Due, now)
	}

	if _, err := svc.Review(context.Background(), owner, card.EntityID, 0, now); !errors.Is(err, ecs.ErrValidation) {
		t.Fatalf("expected validation error for grade 0, got %v", err)
	}
	if _, err := svc.Review(context.Background(), owner, card.EntityID, 5, now); !errors.Is(err, ecs.ErrValidation) {
		t.Fatalf("expected validation error for grade 5, got %v", err)
	}
}

func TestFlashcardSuspendResume(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewFlashcardService(store, log)
	owner := uuid.New()
	card := createTestCard(t, svc, owner)

	if _, err := svc.Suspend(context.Background(), owner, card.EntityID); !errors.Is(err, ecs.ErrValidation) {
		t.Fatalf("suspending a draft should fail, got %v", err)
	}
	if _, err := svc.Approve(context.Background(), owner, card.EntityID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	suspended, err := svc.Suspend(context.Background(), owner, card.EntityID)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if suspended.Status != types.CardSuspended {
		t.Fatalf("expected suspended, got %q", suspended.Status)
	}
	// Schedule is retained while suspended.
	if suspended.SRS == nil {
		t.Fatalf("suspend dropped the schedule")
	}

	if _, err := svc.Review(context.Background(), owner, card.EntityID, 3, time.Now()); !errors.Is(err, ecs.ErrValidation) {
		t.Fatalf("reviewing a suspended card should fail, got %v", err)
	}

	resumed, err := svc.Resume(context.Background(), owner, card.EntityID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != types.CardActive {
		t.Fatalf("expected active after resume, got %q", resumed.Status)
	}
}

func TestFlashcardGetDue(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewFlashcardService(store, log)
	owner := uuid.New()

	draft := createTestCard(t, svc, owner)
	active := createTestCard(t, svc, owner)
	suspended := createTestCard(t, svc, owner)
	for _, id := range []uuid.UUID{active.EntityID, suspended.EntityID} {
		if _, err := svc.Approve(context.Background(), owner, id); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	if _, err := svc.Suspend(context.Background(), owner, suspended.EntityID); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	// A fresh card is due immediately, so querying in the future finds it.
	due, err := svc.GetDue(context.Background(), owner, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(due) != 1 || due[0].EntityID != active.EntityID {
		t.Fatalf("expected only the active card due, got %d cards", len(due))
	}
	_ = draft

	// After an easy review the card schedules into the future and drops
	// out of the near-term queue.
	if _, err := svc.Review(context.Background(), owner, active.EntityID, 4, time.Now()); err != nil {
		t.Fatalf("review: %v", err)
	}
	due, err = svc.GetDue(context.Background(), owner, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected empty due queue after an easy review, got %d", len(due))
	}
}

func TestFlashcardChunkReference(t *testing.T) {
	_, store, log := serviceFixture(t)
	svc := NewFlashcardService(store, log)
	owner, docID := uuid.New(), uuid.New()

	card, err := svc.Create(context.Background(), owner, CreateFlashcardInput{
		Question:       "Q",
		Answer:         "A",
		DocumentID:     &docID,
		ChunkIDs:       []string{"chunk-3"},
		PrimaryChunkID: "chunk-3",
	})
	if err != nil {
		t.Fatalf("create flashcard: %v", err)
	}
	if card.DocumentID == nil || *card.DocumentID != docID {
		t.Fatalf("chunk reference document lost: %+v", card.DocumentID)
	}
	if card.PrimaryChunkID != "chunk-3" {
		t.Fatalf("expected primary chunk chunk-3, got %q", card.PrimaryChunkID)
	}

	byDoc, err := svc.GetByDocument(context.Background(), owner, docID)
	if err != nil {
		t.Fatalf("get by document: %v", err)
	}
	if len(byDoc) != 1 {
		t.Fatalf("expected 1 card for the document, got %d", len(byDoc))
	}
}
