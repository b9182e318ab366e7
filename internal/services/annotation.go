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

// Annotation is the flattened view of an annotation entity, assembled from
// its components for transport.
type Annotation struct {
	EntityID       uuid.UUID           `json:"entity_id"`
	DocumentID     uuid.UUID           `json:"document_id"`
	StartOffset    int                 `json:"start_offset"`
	EndOffset      int                 `json:"end_offset"`
	OriginalText   string              `json:"original_text"`
	Color          string              `json:"color"`
	Style          string              `json:"style,omitempty"`
	Note           string              `json:"note,omitempty"`
	Tags           []string            `json:"tags,omitempty"`
	ChunkIDs       []string            `json:"chunk_ids"`
	PrimaryChunkID string              `json:"primary_chunk_id"`
	Recovery       types.RecoveryState `json:"recovery"`
	CreatedAt      time.Time           `json:"created_at"`
}

type CreateAnnotationInput struct {
	DocumentID  uuid.UUID `json:"document_id"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	// Markdown is the document's canonical text; the highlighted run and
	// its surrounding context are captured from it at creation time.
	Markdown       string   `json:"markdown"`
	ChunkIndex     int      `json:"chunk_index"`
	ChunkIDs       []string `json:"chunk_ids"`
	PrimaryChunkID string   `json:"primary_chunk_id"`
	Color          string   `json:"color"`
	Style          string   `json:"style,omitempty"`
	Note           string   `json:"note,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

type UpdateAnnotationInput struct {
	Color *string   `json:"color,omitempty"`
	Style *string   `json:"style,omitempty"`
	Note  *string   `json:"note,omitempty"`
	Tags  *[]string `json:"tags,omitempty"`
}

type AnnotationService interface {
	Create(ctx context.Context, ownerID uuid.UUID, in CreateAnnotationInput) (*Annotation, error)
	Update(ctx context.Context, ownerID, entityID uuid.UUID, in UpdateAnnotationInput) (*Annotation, error)
	Delete(ctx context.Context, ownerID, entityID uuid.UUID) error
	Get(ctx context.Context, ownerID, entityID uuid.UUID) (*Annotation, error)
	GetByDocument(ctx context.Context, ownerID, documentID uuid.UUID) ([]Annotation, error)
	GetInRange(ctx context.Context, ownerID, documentID uuid.UUID, start, end int) ([]Annotation, error)
}

type annotationService struct {
	store         *ecs.Store
	log           *logger.Logger
	contextRadius int
}

func NewAnnotationService(store *ecs.Store, baseLog *logger.Logger, contextRadius int) AnnotationService {
	if contextRadius <= 0 {
		contextRadius = 100
	}
	return &annotationService{
		store:         store,
		log:           baseLog.With("service", "AnnotationService"),
		contextRadius: contextRadius,
	}
}

// Create captures the anchor from the supplied markdown and persists the
// annotation entity atomically. Fresh annotations are fully trusted: the
// offsets were just observed, so confidence is 1.0, method exact, no review.
func (s *annotationService) Create(ctx context.Context, ownerID uuid.UUID, in CreateAnnotationInput) (*Annotation, error) {
	if in.StartOffset < 0 || in.StartOffset >= in.EndOffset {
		return nil, fmt.Errorf("%w: invalid offsets [%d,%d)", ecs.ErrValidation, in.StartOffset, in.EndOffset)
	}
	if in.EndOffset > len(in.Markdown) {
		return nil, fmt.Errorf("%w: offsets exceed document length", ecs.ErrValidation)
	}
	if len(in.ChunkIDs) == 0 || in.PrimaryChunkID == "" {
		return nil, fmt.Errorf("%w: chunk reference required", ecs.ErrValidation)
	}

	originalText := in.Markdown[in.StartOffset:in.EndOffset]
	components := []types.ComponentData{
		types.PositionData{
			TextAnchor: types.TextAnchor{
				DocumentID:         in.DocumentID,
				StartOffset:        in.StartOffset,
				EndOffset:          in.EndOffset,
				OriginalText:       originalText,
				TextContext:        types.CaptureContext(in.Markdown, in.StartOffset, in.EndOffset, s.contextRadius),
				OriginalChunkIndex: in.ChunkIndex,
			},
			RecoveryState: types.RecoveryState{
				RecoveryConfidence: 1.0,
				RecoveryMethod:     types.RecoveryExact,
			},
		},
		types.VisualData{Color: in.Color, Style: in.Style},
		types.ContentData{Note: in.Note, Tags: in.Tags},
		types.TemporalData{CreatedAt: time.Now().UTC()},
		types.ChunkRefData{
			DocumentID:     in.DocumentID,
			ChunkIDs:       in.ChunkIDs,
			PrimaryChunkID: in.PrimaryChunkID,
		},
	}

	id, err := s.store.CreateEntity(ctx, ownerID, components)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ownerID, id)
}

func (s *annotationService) Update(ctx context.Context, ownerID, entityID uuid.UUID, in UpdateAnnotationInput) (*Annotation, error) {
	entity, err := s.store.GetEntity(ctx, entityID, ownerID)
	if err != nil {
		return nil, err
	}

	if in.Color != nil || in.Style != nil {
		visual := entity.Component(types.ComponentVisual)
		if visual == nil {
			return nil, fmt.Errorf("%w: entity has no visual component", ecs.ErrValidation)
		}
		decoded, err := visual.Decoded()
		if err != nil {
			return nil, err
		}
		vd := decoded.(types.VisualData)
		if in.Color != nil {
			vd.Color = *in.Color
		}
		if in.Style != nil {
			vd.Style = *in.Style
		}
		if err := s.store.UpdateComponent(ctx, visual.ID, vd, ownerID); err != nil {
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

func (s *annotationService) Delete(ctx context.Context, ownerID, entityID uuid.UUID) error {
	return s.store.DeleteEntity(ctx, entityID, ownerID)
}

func (s *annotationService) Get(ctx context.Context, ownerID, entityID uuid.UUID) (*Annotation, error) {
	entity, err := s.store.GetEntity(ctx, entityID, ownerID)
	if err != nil {
		return nil, err
	}
	ann, err := annotationFromEntity(entity)
	if err != nil {
		return nil, err
	}
	return ann, nil
}

func (s *annotationService) GetByDocument(ctx context.Context, ownerID, documentID uuid.UUID) ([]Annotation, error) {
	rows, err := s.store.Query(ctx, ownerID, []string{types.ComponentPosition}, ecs.Filters{DocumentID: &documentID})
	if err != nil {
		return nil, err
	}
	out := make([]Annotation, 0, len(rows))
	for _, entity := range rows {
		ann, err := annotationFromEntity(entity)
		if err != nil {
			s.log.Warn("skipping unreadable annotation", "entity_id", entity.ID.String(), "error", err.Error())
			continue
		}
		out = append(out, *ann)
	}
	return out, nil
}

// GetInRange returns the document's annotations whose position intersects
// the half-open range [start,end). Touching endpoints do not count.
func (s *annotationService) GetInRange(ctx context.Context, ownerID, documentID uuid.UUID, start, end int) ([]Annotation, error) {
	if start >= end {
		return nil, fmt.Errorf("%w: invalid range [%d,%d)", ecs.ErrValidation, start, end)
	}
	all, err := s.GetByDocument(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]Annotation, 0, len(all))
	for _, ann := range all {
		if ann.StartOffset < end && ann.EndOffset > start {
			out = append(out, ann)
		}
	}
	return out, nil
}

func annotationFromEntity(entity *types.Entity) (*Annotation, error) {
	pos := entity.Component(types.ComponentPosition)
	if pos == nil {
		return nil, fmt.Errorf("entity %s has no position component", entity.ID)
	}
	decoded, err := pos.Decoded()
	if err != nil {
		return nil, err
	}
	pd, ok := decoded.(types.PositionData)
	if !ok {
		return nil, fmt.Errorf("entity %s position payload is %T", entity.ID, decoded)
	}

	ann := &Annotation{
		EntityID:     entity.ID,
		DocumentID:   pd.DocumentID,
		StartOffset:  pd.StartOffset,
		EndOffset:    pd.EndOffset,
		OriginalText: pd.OriginalText,
		Recovery:     pd.RecoveryState,
		CreatedAt:    entity.CreatedAt,
	}
	if visual := entity.Component(types.ComponentVisual); visual != nil {
		if d, err := visual.Decoded(); err == nil {
			vd := d.(types.VisualData)
			ann.Color = vd.Color
			ann.Style = vd.Style
		}
	}
	if content := entity.Component(types.ComponentContent); content != nil {
		if d, err := content.Decoded(); err == nil {
			cd := d.(types.ContentData)
			ann.Note = cd.Note
			ann.Tags = cd.Tags
		}
	}
	if ref := entity.Component(types.ComponentChunkRef); ref != nil {
		if d, err := ref.Decoded(); err == nil {
			rd := d.(types.ChunkRefData)
			ann.ChunkIDs = rd.ChunkIDs
			ann.PrimaryChunkID = rd.PrimaryChunkID
		}
	}
	if temporal := entity.Component(types.ComponentTemporal); temporal != nil {
		if d, err := temporal.Decoded(); err == nil {
			ann.CreatedAt = d.(types.TemporalData).CreatedAt
		}
	}
	return ann, nil
}
