package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	fsrs "github.com/open-spaced-repetition/go-fsrs/v3"

	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/ecs"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
)

// Flashcard is the flattened view of a card entity.
type Flashcard struct {
	EntityID       uuid.UUID        `json:"entity_id"`
	Question       string           `json:"question"`
	Answer         string           `json:"answer"`
	CardType       string           `json:"card_type,omitempty"`
	Status         types.CardStatus `json:"status"`
	SRS            *types.SRSState  `json:"srs,omitempty"`
	DocumentID     *uuid.UUID       `json:"document_id,omitempty"`
	ChunkIDs       []string         `json:"chunk_ids,omitempty"`
	PrimaryChunkID string           `json:"primary_chunk_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

type CreateFlashcardInput struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	CardType string `json:"card_type,omitempty"`

	// Cards generated from a document keep a chunk reference back to their
	// source passage.
	DocumentID     *uuid.UUID `json:"document_id,omitempty"`
	ChunkIDs       []string   `json:"chunk_ids,omitempty"`
	PrimaryChunkID string     `json:"primary_chunk_id,omitempty"`
}

type UpdateFlashcardInput struct {
	Question *string `json:"question,omitempty"`
	Answer   *string `json:"answer,omitempty"`
	CardType *string `json:"card_type,omitempty"`
}

type FlashcardService interface {
	Create(ctx context.Context, ownerID uuid.UUID, in CreateFlashcardInput) (*Flashcard, error)
	Update(ctx context.Context, ownerID, entityID uuid.UUID, in UpdateFlashcardInput) (*Flashcard, error)
	Delete(ctx context.Context, ownerID, entityID uuid.UUID) error
	Get(ctx context.Context, ownerID, entityID uuid.UUID) (*Flashcard, error)
	GetByDocument(ctx context.Context, ownerID, documentID uuid.UUID) ([]Flashcard, error)
	GetDue(ctx context.Context, ownerID uuid.UUID, now time.Time) ([]Flashcard, error)
	// Approve promotes a draft to active study and seeds its schedule.
	Approve(ctx context.Context, ownerID, entityID uuid.UUID) (*Flashcard, error)
	// Review applies a grade (1=again .. 4=easy) to an active card.
	Review(ctx context.Context, ownerID, entityID uuid.UUID, grade int, now time.Time) (*Flashcard, error)
	Suspend(ctx context.Context, ownerID, entityID uuid.UUID) (*Flashcard, error)
	Resume(ctx context.Context, ownerID, entityID uuid.UUID) (*Flashcard, error)
}

type flashcardService struct {
	store     *ecs.Store
	log       *logger.Logger
	scheduler *fsrs.FSRS
}

func NewFlashcardService(store *ecs.Store, baseLog *logger.Logger) FlashcardService {
	return &flashcardService{
		store:     store,
		log:       baseLog.With("service", "FlashcardService"),
		scheduler: fsrs.NewFSRS(fsrs.DefaultParam()),
	}
}

func (s *flashcardService) Create(ctx context.Context, ownerID uuid.UUID, in CreateFlashcardInput) (*Flashcard, error) {
	components := []types.ComponentData{
		types.CardData{
			Question: in.Question,
			Answer:   in.Answer,
			CardType: in.CardType,
			Status:   types.CardDraft,
		},
		types.TemporalData{CreatedAt: time.Now().UTC()},
	}
	if in.DocumentID != nil {
		components = append(components, types.ChunkRefData{
			DocumentID:     *in.DocumentID,
			ChunkIDs:       in.ChunkIDs,
			PrimaryChunkID: in.PrimaryChunkID,
		})
	}
	id, err := s.store.CreateEntity(ctx, ownerID, components)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ownerID, id)
}

func (s *flashcardService) Update(ctx context.Context, ownerID, entityID uuid.UUID, in UpdateFlashcardInput) (*Flashcard, error) {
	return s.mutateCard(ctx, ownerID, entityID, func(cd *types.CardData) error {
		if in.Question != nil {
			cd.Question = *in.Question
		}
		if in.Answer != nil {
			cd.Answer = *in.Answer
		}
		if in.CardType != nil {
			cd.CardType = *in.CardType
		}
		return nil
	})
}

func (s *flashcardService) Delete(ctx context.Context, ownerID, entityID uuid.UUID) error {
	return s.store.DeleteEntity(ctx, entityID, ownerID)
}

func (s *flashcardService) Get(ctx context.Context, ownerID, entityID uuid.UUID) (*Flashcard, error) {
	entity, err := s.store.GetEntity(ctx, entityID, ownerID)
	if err != nil {
		return nil, err
	}
	return flashcardFromEntity(entity)
}

func (s *flashcardService) GetByDocument(ctx context.Context, ownerID, documentID uuid.UUID) ([]Flashcard, error) {
	rows, err := s.store.Query(ctx, ownerID, []string{types.ComponentCard}, ecs.Filters{DocumentID: &documentID})
	if err != nil {
		return nil, err
	}
	return s.collect(rows), nil
}

// GetDue lists active cards whose next review is at or before now, the
// study queue in due order.
func (s *flashcardService) GetDue(ctx context.Context, ownerID uuid.UUID, now time.Time) ([]Flashcard, error) {
	rows, err := s.store.Query(ctx, ownerID, []string{types.ComponentCard}, ecs.Filters{})
	if err != nil {
		return nil, err
	}
	due := []Flashcard{}
	for _, card := range s.collect(rows) {
		if card.Status != types.CardActive || card.SRS == nil {
			continue
		}
		if !card.SRS.Due.After(now) {
			due = append(due, card)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].SRS.Due.Before(due[j].SRS.Due) })
	return due, nil
}

func (s *flashcardService) Approve(ctx context.Context, ownerID, entityID uuid.UUID) (*Flashcard, error) {
	return s.mutateCard(ctx, ownerID, entityID, func(cd *types.CardData) error {
		if cd.Status != types.CardDraft {
			return fmt.Errorf("%w: only draft cards can be approved", ecs.ErrValidation)
		}
		fresh := fsrs.NewCard()
		srs := srsFromFSRS(fresh)
		cd.Status = types.CardActive
		cd.SRS = &srs
		return nil
	})
}

func (s *flashcardService) Review(ctx context.Context, ownerID, entityID uuid.UUID, grade int, now time.Time) (*Flashcard, error) {
	if grade < 1 || grade > 4 {
		return nil, fmt.Errorf("%w: grade must be 1-4", ecs.ErrValidation)
	}
	return s.mutateCard(ctx, ownerID, entityID, func(cd *types.CardData) error {
		if cd.Status != types.CardActive || cd.SRS == nil {
			return fmt.Errorf("%w: only active cards can be reviewed", ecs.ErrValidation)
		}
		scheduled := s.scheduler.Repeat(fsrsFromSRS(*cd.SRS), now)
		next := scheduled[fsrs.Rating(grade)].Card
		srs := srsFromFSRS(next)
		cd.SRS = &srs
		return nil
	})
}

func (s *flashcardService) Suspend(ctx context.Context, ownerID, entityID uuid.UUID) (*Flashcard, error) {
	return s.mutateCard(ctx, ownerID, entityID, func(cd *types.CardData) error {
		if cd.Status != types.CardActive {
			return fmt.Errorf("%w: only active cards can be suspended", ecs.ErrValidation)
		}
		cd.Status = types.CardSuspended
		return nil
	})
}

func (s *flashcardService) Resume(ctx context.Context, ownerID, entityID uuid.UUID) (*Flashcard, error) {
	return s.mutateCard(ctx, ownerID, entityID, func(cd *types.CardData) error {
		if cd.Status != types.CardSuspended {
			return fmt.Errorf("%w: only suspended cards can be resumed", ecs.ErrValidation)
		}
		cd.Status = types.CardActive
		return nil
	})
}

func (s *flashcardService) mutateCard(ctx context.Context, ownerID, entityID uuid.UUID, fn func(*types.CardData) error) (*Flashcard, error) {
	entity, err := s.store.GetEntity(ctx, entityID, ownerID)
	if err != nil {
		return nil, err
	}
	comp := entity.Component(types.ComponentCard)
	if comp == nil {
		return nil, fmt.Errorf("%w: entity is not a flashcard", ecs.ErrValidation)
	}
	decoded, err := comp.Decoded()
	if err != nil {
		return nil, err
	}
	cd, ok := decoded.(types.CardData)
	if !ok {
		return nil, fmt.Errorf("entity %s card payload is %T", entity.ID, decoded)
	}
	if err := fn(&cd); err != nil {
		return nil, err
	}
	if err := s.store.UpdateComponent(ctx, comp.ID, cd, ownerID); err != nil {
		return nil, err
	}
	return s.Get(ctx, ownerID, entityID)
}

func (s *flashcardService) collect(rows []*types.Entity) []Flashcard {
	out := make([]Flashcard, 0, len(rows))
	for _, entity := range rows {
		card, err := flashcardFromEntity(entity)
		if err != nil {
			s.log.Warn("skipping unreadable flashcard", "entity_id", entity.ID.String(), "error", err.Error())
			continue
		}
		out = append(out, *card)
	}
	return out
}

func flashcardFromEntity(entity *types.Entity) (*Flashcard, error) {
	comp := entity.Component(types.ComponentCard)
	if comp == nil {
		return nil, fmt.Errorf("entity %s has no card component", entity.ID)
	}
	decoded, err := comp.Decoded()
	if err != nil {
		return nil, err
	}
	cd, ok := decoded.(types.CardData)
	if !ok {
		return nil, fmt.Errorf("entity %s card payload is %T", entity.ID, decoded)
	}

	card := &Flashcard{
		EntityID:  entity.ID,
		Question:  cd.Question,
		Answer:    cd.Answer,
		CardType:  cd.CardType,
		Status:    cd.Status,
		SRS:       cd.SRS,
		CreatedAt: entity.CreatedAt,
	}
	if ref := entity.Component(types.ComponentChunkRef); ref != nil {
		if d, err := ref.Decoded(); err == nil {
			rd := d.(types.ChunkRefData)
			card.DocumentID = &rd.DocumentID
			card.ChunkIDs = rd.ChunkIDs
			card.PrimaryChunkID = rd.PrimaryChunkID
		}
	}
	if temporal := entity.Component(types.ComponentTemporal); temporal != nil {
		if d, err := temporal.Decoded(); err == nil {
			card.CreatedAt = d.(types.TemporalData).CreatedAt
		}
	}
	return card, nil
}

var stateNames = map[fsrs.State]string{
	fsrs.New:        "new",
	fsrs.Learning:   "learning",
	fsrs.Review:     "review",
	fsrs.Relearning: "relearning",
}

var stateValues = map[string]fsrs.State{
	"new":        fsrs.New,
	"learning":   fsrs.Learning,
	"review":     fsrs.Review,
	"relearning": fsrs.Relearning,
}

func srsFromFSRS(c fsrs.Card) types.SRSState {
	srs := types.SRSState{
		Due:           c.Due,
		Stability:     c.Stability,
		Difficulty:    c.Difficulty,
		ElapsedDays:   c.ElapsedDays,
		ScheduledDays: c.ScheduledDays,
		Reps:          c.Reps,
		Lapses:        c.Lapses,
		State:         stateNames[c.State],
	}
	if !c.LastReview.IsZero() {
		last := c.LastReview
		srs.LastReview = &last
	}
	return srs
}

func fsrsFromSRS(s types.SRSState) fsrs.Card {
	c := fsrs.Card{
		Due:           s.Due,
		Stability:     s.Stability,
		Difficulty:    s.Difficulty,
		ElapsedDays:   s.ElapsedDays,
		ScheduledDays: s.ScheduledDays,
		Reps:          s.Reps,
		Lapses:        s.Lapses,
		State:         stateValues[s.State],
	}
	if s.LastReview != nil {
		c.LastReview = *s.LastReview
	}
	return c
}
