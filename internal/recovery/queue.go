package recovery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rhizomelab/rhizome-backend/internal/data/repos"
	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/ecs"
	"github.com/rhizomelab/rhizome-backend/internal/platform/dbctx"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
)

// ReviewItem is a flagged anchor denormalized for the review queue: the
// text the user originally marked, where the matcher thinks it lives now,
// and how much to trust that suggestion.
type ReviewItem struct {
	EntityID       uuid.UUID            `json:"entity_id"`
	ComponentID    uuid.UUID            `json:"component_id"`
	ComponentType  string               `json:"component_type"`
	DocumentID     uuid.UUID            `json:"document_id"`
	OriginalText   string               `json:"original_text"`
	SuggestedStart int                  `json:"suggested_start"`
	SuggestedEnd   int                  `json:"suggested_end"`
	Confidence     float64              `json:"confidence"`
	Method         types.RecoveryMethod `json:"method"`
}

// Queue serves the human side of recovery: listing flagged items and
// applying accept / reject / relink decisions.
type Queue struct {
	db         *gorm.DB
	log        *logger.Logger
	entities   repos.EntityRepo
	components repos.ComponentRepo
}

func NewQueue(db *gorm.DB, baseLog *logger.Logger) *Queue {
	return &Queue{
		db:         db,
		log:        baseLog.With("service", "RecoveryQueue"),
		entities:   repos.NewEntityRepo(db, baseLog),
		components: repos.NewComponentRepo(db, baseLog),
	}
}

// LoadItems lists every position and spark flagged for review, scoped to
// one document when documentID is set and to the whole account otherwise.
func (q *Queue) LoadItems(ctx context.Context, userID uuid.UUID, documentID *uuid.UUID) ([]ReviewItem, error) {
	if userID == uuid.Nil {
		return nil, ecs.ErrValidation
	}
	dbc := dbctx.Context{Ctx: ctx}
	ids, err := q.components.FindEntityIDs(dbc, userID,
		[]string{types.ComponentPosition, types.ComponentSpark},
		repos.MatchFilters{DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []ReviewItem{}, nil
	}
	comps, err := q.components.GetByEntityIDs(dbc, ids)
	if err != nil {
		return nil, err
	}

	items := []ReviewItem{}
	for _, c := range comps {
		if c.ComponentType != types.ComponentPosition && c.ComponentType != types.ComponentSpark {
			continue
		}
		if documentID != nil && (c.DocumentID == nil || *c.DocumentID != *documentID) {
			continue
		}
		decoded, err := c.Decoded()
		if err != nil {
			q.log.Warn("skipping unreadable component", "component_id", c.ID.String(), "error", err.Error())
			continue
		}
		anchor, state, ok := anchorAndState(decoded)
		if !ok || !state.NeedsReview {
			continue
		}
		items = append(items, ReviewItem{
			EntityID:       c.EntityID,
			ComponentID:    c.ID,
			ComponentType:  c.ComponentType,
			DocumentID:     anchor.DocumentID,
			OriginalText:   anchor.OriginalText,
			SuggestedStart: anchor.StartOffset,
			SuggestedEnd:   anchor.EndOffset,
			Confidence:     state.RecoveryConfidence,
			Method:         state.RecoveryMethod,
		})
	}
	return items, nil
}

// Accept confirms the suggested location: the flag clears, confidence and
// method stay as the matcher left them.
func (q *Queue) Accept(ctx context.Context, userID, entityID uuid.UUID) error {
	return q.mutate(ctx, userID, entityID, func(state *types.RecoveryState) {
		state.NeedsReview = false
	}, nil)
}

// Reject acknowledges the loss: confidence drops to zero, method becomes
// lost, and the flag clears so the item stops resurfacing.
func (q *Queue) Reject(ctx context.Context, userID, entityID uuid.UUID) error {
	return q.mutate(ctx, userID, entityID, func(state *types.RecoveryState) {
		state.RecoveryConfidence = 0
		state.RecoveryMethod = types.RecoveryLost
		state.NeedsReview = false
	}, nil)
}

// ManuallyRelink repoints the entity at a chunk the user chose, bypassing
// the matcher. Offsets are left as-is; the chunk_ref is rewritten to the
// chosen chunk in the same transaction.
func (q *Queue) ManuallyRelink(ctx context.Context, userID, entityID uuid.UUID, newChunkID string) error {
	if newChunkID == "" {
		return fmt.Errorf("%w: chunk id required", ecs.ErrValidation)
	}
	return q.mutate(ctx, userID, entityID, func(state *types.RecoveryState) {
		state.RecoveryConfidence = 1.0
		state.RecoveryMethod = types.RecoveryManual
		state.NeedsReview = false
	}, &newChunkID)
}

// mutate loads the entity's recoverable component, applies fn to its
// recovery state, and optionally repoints the chunk_ref, all in one
// transaction with the owner check up front.
func (q *Queue) mutate(ctx context.Context, userID, entityID uuid.UUID, fn func(*types.RecoveryState), relinkChunkID *string) error {
	if userID == uuid.Nil || entityID == uuid.Nil {
		return ecs.ErrValidation
	}
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		entity, err := q.entities.GetByID(dbc, entityID)
		if err != nil {
			return ecs.MapStoreError(err)
		}
		if entity.UserID != userID {
			return ecs.ErrForbidden
		}

		var target *types.Component
		var chunkRef *types.Component
		for i := range entity.Components {
			c := &entity.Components[i]
			switch c.ComponentType {
			case types.ComponentPosition:
				target = c
			case types.ComponentSpark:
				if target == nil {
					target = c
				}
			case types.ComponentChunkRef:
				chunkRef = c
			}
		}
		if target == nil {
			return fmt.Errorf("%w: entity has no recoverable component", ecs.ErrValidation)
		}

		decoded, err := target.Decoded()
		if err != nil {
			return err
		}
		var data types.ComponentData
		switch d := decoded.(type) {
		case types.PositionData:
			fn(&d.RecoveryState)
			data = d
		case types.SparkData:
			if d.Anchor == nil {
				return fmt.Errorf("%w: spark has no anchor", ecs.ErrValidation)
			}
			fn(&d.RecoveryState)
			data = d
		default:
			return fmt.Errorf("%w: entity has no recoverable component", ecs.ErrValidation)
		}
		if err := target.SetData(data); err != nil {
			return err
		}
		if err := q.components.Update(dbc, target); err != nil {
			return ecs.MapStoreError(err)
		}

		if relinkChunkID != nil {
			if chunkRef == nil {
				return fmt.Errorf("%w: entity has no chunk_ref", ecs.ErrValidation)
			}
			refDecoded, err := chunkRef.Decoded()
			if err != nil {
				return err
			}
			ref, ok := refDecoded.(types.ChunkRefData)
			if !ok {
				return fmt.Errorf("chunk_ref component %s has wrong payload", chunkRef.ID)
			}
			ref.ChunkIDs = []string{*relinkChunkID}
			ref.PrimaryChunkID = *relinkChunkID
			if err := chunkRef.SetData(ref); err != nil {
				return err
			}
			if err := q.components.Update(dbc, chunkRef); err != nil {
				return ecs.MapStoreError(err)
			}
		}
		return q.entities.Touch(dbc, entityID)
	})
}

func anchorAndState(decoded types.ComponentData) (types.TextAnchor, types.RecoveryState, bool) {
	switch d := decoded.(type) {
	case types.PositionData:
		return d.TextAnchor, d.RecoveryState, true
	case types.SparkData:
		if d.Anchor == nil {
			return types.TextAnchor{}, types.RecoveryState{}, false
		}
		return *d.Anchor, d.RecoveryState, true
	default:
		return types.TextAnchor{}, types.RecoveryState{}, false
	}
}
