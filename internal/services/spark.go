package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/ecs"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
)

// Spark is the flattened view of a spark entity. Anchor fields are zero for
// free-floating sparks.
type Spark struct {
	EntityID     uuid.UUID            `json:"entity_id"`
	Kind         string               `json:"kind,omitempty"`
	Note         string               `json:"note,omitempty"`
	Tags         []string             `json:"tags,omitempty"`
	Anchored     bool                 `json:"anchored"`
	DocumentID   uuid.UUID            `json:"document_id,omitempty"`
	StartOffset  int                  `json:"start_offset,omitempty"`
	EndOffset    int                  `json:"end_offset,omitempty"`
	OriginalText string               `json:"original_text,omitempty"`
	Recovery     *types.RecoveryState `json:"recovery,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

type CreateSparkInput struct {
	Kind string   `json:"kind,omitempty"`
	Note string   `json:"note"`
	Tags []string `json:"tags,omitempty"`

	// Anchor is optional: a spark may pin an insight to a run of text or
	// float free of any document.
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
	StartOffset int        `json:"start_offset,omitempty"`
	EndOffset   int        `json:"end_offset,omitempty"`
	Markdown    string     `json:"markdown,omitempty"`
	ChunkIndex  int        `json:"chunk_index,omitempty"`
}

type UpdateSparkInput struct {
	Kind *string   `json:"kind,omitempty"`
	Note *string   `json:"note,omitempty"`
	Tags *[]string `json:"tags,omitempty"`
}

type SparkService interface {
	Create(ctx context.Context, ownerID uuid.UUID, in CreateSparkInput) (*Spark, error)
	Update(ctx context.Context, ownerID, entityID uuid.UUID, in UpdateSparkInput) (*Spark, error)
	Delete(ctx context.Context, ownerID, entityID uuid.UUID) error
	Get(ctx context.Context, ownerID, entityID uuid.UUID) (*Spark, error)
	GetAll(ctx context.Context, ownerID uuid.UUID) ([]Spark, error)
	GetByDocument(ctx context.Context, ownerID, documentID uuid.UUID) ([]Spark, error)
}

type sparkService struct {
	store         *ecs.Store
	log           *logger.Logger
	contextRadius int
}

func NewSparkService(store *ecs.Store, baseLog *logger.Logger, contextRadius int) SparkService {
	if contextRadius <= 0 {
		contextRadius = 100
	}
	return &sparkService{
		store:         store,
		log:           baseLog.With("service", "SparkService"),
		contextRadius: contextRadius,
	}
}

func (s *sparkService) Create(ctx context.Context, ownerID uuid.UUID, in CreateSparkInput) (*Spark, error) {
	sd := types.SparkData{Kind: in.Kind}
	if in.DocumentID != nil {
		if in.StartOffset < 0 || in.StartOffset >= in.EndOffset || in.EndOffset > len(in.Markdown) {
			return nil, fmt.Errorf("%w: invalid anchor offsets [%d,%d)", ecs.ErrValidation, in.StartOffset, in.EndOffset)
		}
		sd.Anchor = &types.TextAnchor{
			DocumentID:         *in.DocumentID,
			StartOffset:        in.StartOffset,
			EndOffset:          in.EndOffset,
			OriginalText:       in.Markdown[in.StartOffset:in.EndOffset],
			TextContext:        types.CaptureContext(in.Markdown, in.StartOffset, in.EndOffset, s.contextRadius),
			OriginalChunkIndex: in.ChunkIndex,
		}
		sd.RecoveryState = types.RecoveryState{
			RecoveryConfidence: 1.0,
			RecoveryMethod:     types.RecoveryExact,
		}
	}

	id, err := s.store.CreateEntity(ctx, ownerID, []types.ComponentData{
		sd,
		types.ContentData{Note: in.Note, Tags: in.Tags},
		types.TemporalData{CreatedAt: time.Now().UTC()},
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ownerID, id)
}

func (s *sparkService) Update(ctx context.Context, ownerID, entityID uuid.UUID, in UpdateSparkInput) (*Spark, error) {
	entity, err := s.store.GetEntity(ctx, entityID, ownerID)
	if err != nil {
		return nil, err
	}

	if in.Kind != nil {
		spark := entity.Component(types.ComponentSpark)
		if spark == nil {
			return nil, fmt.Errorf("%w: entity is not a spark", ecs.ErrValidation)
		}
		decoded, err := spark.Decoded()
		if err != nil {
			return nil, err
		}
		sd := decoded.(types.SparkData)
		sd.Kind = *in.Kind
		if err := s.store.UpdateComponent(ctx, spark.ID, sd, ownerID); err != nil {
			return nil, err
		}
	}
	if in.Note != nil || in.Tags != nil {
		content := entity.Component(types.ComponentContent)
		if content == nil {
			return nil, fmt.Errorf("%w: entity has no content component", ecs.ErrValidation)
		}
		decoded, err := content.Decoded()
		if err != nil {
			return nil, err
		}
		cd := decoded.(types.ContentData)
		if in.Note != nil {
			cd.Note = *in.Note
		}
		if in.Tags != nil {
			cd.Tags = *in.Tags
		}
		if err := s.store.UpdateComponent(ctx, content.ID, cd, ownerID); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, ownerID, entityID)
}

func (s *sparkService) Delete(ctx context.Context, ownerID, entityID uuid.UUID) error {
	return s.store.DeleteEntity(ctx, entityID, ownerID)
}

func (s *sparkService) Get(ctx context.Context, ownerID, entityID uuid.UUID) (*Spark, error) {
	entity, err := s.store.GetEntity(ctx, entityID, ownerID)
	if err != nil {
		return nil, err
	}
	return sparkFromEntity(entity)
}

func (s *sparkService) GetAll(ctx context.Context, ownerID uuid.UUID) ([]Spark, error) {
	rows, err := s.store.Query(ctx, ownerID, []string{types.ComponentSpark}, ecs.Filters{})
	if err != nil {
		return nil, err
	}
	return s.collect(rows), nil
}

func (s *sparkService) GetByDocument(ctx context.Context, ownerID, documentID uuid.UUID) ([]Spark, error) {
	rows, err := s.store.Query(ctx, ownerID, []string{types.ComponentSpark}, ecs.Filters{DocumentID: &documentID})
	if err != nil {
		return nil, err
	}
	return s.collect(rows), nil
}

func (s *sparkService) collect(rows []*types.Entity) []Spark {
	out := make([]Spark, 0, len(rows))
	for _, entity := range rows {
		sp, err := sparkFromEntity(entity)
		if err != nil {
			s.log.Warn("skipping unreadable spark", "entity_id", entity.ID.String(), "error", err.Error())
			continue
		}
		out = append(out, *sp)
	}
	return out
}

func sparkFromEntity(entity *types.Entity) (*Spark, error) {
	comp := entity.Component(types.ComponentSpark)
	if comp == nil {
		return nil, fmt.Errorf("entity %s has no spark component", entity.ID)
	}
	decoded, err := comp.Decoded()
	if err != nil {
		return nil, err
	}
	sd, ok := decoded.(types.SparkData)
	if !ok {
		return nil, fmt.Errorf("entity %s spark payload is %T", entity.ID, decoded)
	}

	sp := &Spark{
		EntityID:  entity.ID,
		Kind:      sd.Kind,
		CreatedAt: entity.CreatedAt,
	}
	if sd.Anchor != nil {
		sp.Anchored = true
		sp.DocumentID = sd.Anchor.DocumentID
		sp.StartOffset = sd.Anchor.StartOffset
		sp.EndOffset = sd.Anchor.EndOffset
		sp.OriginalText = sd.Anchor.OriginalText
		rs := sd.RecoveryState
		sp.Recovery = &rs
	}
	if content := entity.Component(types.ComponentContent); content != nil {
		if d, err := content.Decoded(); err == nil {
			cd := d.(types.ContentData)
			sp.Note = cd.Note
			sp.Tags = cd.Tags
		}
	}
	if temporal := entity.Component(types.ComponentTemporal); temporal != nil {
		if d, err := temporal.Decoded(); err == nil {
			sp.CreatedAt = d.(types.TemporalData).CreatedAt
		}
	}
	return sp, nil
}
