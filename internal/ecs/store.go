package ecs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rhizomelab/rhizome-backend/internal/data/repos"
	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/platform/dbctx"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
)

// Filters narrows a typed query. All fields are optional.
type Filters struct {
	DocumentID *uuid.UUID
	ChunkID    *string
}

// Store is the entity-component store. Every read and write is scoped by
// owner id; entity creation is atomic across the entity row and all of its
// component rows.
type Store struct {
	db         *gorm.DB
	log        *logger.Logger
	entities   repos.EntityRepo
	components repos.ComponentRepo
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) *Store {
	log := baseLog.With("service", "ECSStore")
	return &Store{
		db:         db,
		log:        log,
		entities:   repos.NewEntityRepo(db, baseLog),
		components: repos.NewComponentRepo(db, baseLog),
	}
}

// CreateEntity inserts an entity and one component row per payload in a
// single transaction. Validation happens before anything touches the
// database; any insert failure rolls the whole entity back, so no reader can
// ever observe a partially created entity.
func (s *Store) CreateEntity(ctx context.Context, ownerID uuid.UUID, components []types.ComponentData) (uuid.UUID, error) {
	if ownerID == uuid.Nil {
		return uuid.Nil, validationError(fmt.Errorf("owner id required"))
	}
	if len(components) == 0 {
		return uuid.Nil, validationError(fmt.Errorf("at least one component required"))
	}
	seen := map[string]bool{}
	for _, data := range components {
		if data == nil {
			return uuid.Nil, validationError(fmt.Errorf("nil component payload"))
		}
		if err := data.Validate(); err != nil {
			return uuid.Nil, validationError(fmt.Errorf("%s: %w", data.Type(), err))
		}
		if seen[data.Type()] {
			return uuid.Nil, validationError(fmt.Errorf("duplicate component type %q", data.Type()))
		}
		seen[data.Type()] = true
	}

	entity := &types.Entity{ID: uuid.New(), UserID: ownerID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.entities.Create(dbc, entity); err != nil {
			return err
		}
		rows := make([]*types.Component, 0, len(components))
		for _, data := range components {
			row := &types.Component{ID: uuid.New(), EntityID: entity.ID}
			if err := row.SetData(data); err != nil {
				return validationError(err)
			}
			rows = append(rows, row)
		}
		return s.components.CreateMany(dbc, rows)
	})
	if err != nil {
		return uuid.Nil, MapStoreError(err)
	}
	return entity.ID, nil
}

// Query returns the caller's entities holding at least one component of the
// given types (all entities when the set is empty). The id search and the
// entity load are separate phases: joining once and scanning rows would drop
// every non-matching component from the result and corrupt typed mapping
// downstream, so phase two reloads each matched entity with its full
// component bag.
func (s *Store) Query(ctx context.Context, ownerID uuid.UUID, componentTypes []string, f Filters) ([]*types.Entity, error) {
	if ownerID == uuid.Nil {
		return nil, validationError(fmt.Errorf("owner id required"))
	}
	dbc := dbctx.Context{Ctx: ctx}

	if len(componentTypes) == 0 && f.DocumentID == nil && f.ChunkID == nil {
		rows, err := s.entities.GetByUserID(dbc, ownerID)
		if err != nil {
			return nil, MapStoreError(err)
		}
		return rows, nil
	}

	ids, err := s.components.FindEntityIDs(dbc, ownerID, componentTypes, repos.MatchFilters{
		DocumentID: f.DocumentID,
		ChunkID:    f.ChunkID,
	})
	if err != nil {
		return nil, MapStoreError(err)
	}
	rows, err := s.entities.GetByIDs(dbc, ids)
	if err != nil {
		return nil, MapStoreError(err)
	}
	return rows, nil
}

// GetEntity loads one entity with all components. A wrong owner is a hard
// authorization failure, deliberately distinct from not-found.
func (s *Store) GetEntity(ctx context.Context, id, ownerID uuid.UUID) (*types.Entity, error) {
	entity, err := s.entities.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, MapStoreError(err)
	}
	if entity.UserID != ownerID {
		return nil, ErrForbidden
	}
	return entity, nil
}

// UpdateComponent replaces a component's payload wholesale after verifying
// the parent entity's owner. Data and the denormalized chunk_id/document_id
// columns are written in one statement.
func (s *Store) UpdateComponent(ctx context.Context, componentID uuid.UUID, data types.ComponentData, ownerID uuid.UUID) error {
	if data == nil {
		return validationError(fmt.Errorf("component data required"))
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		row, err := s.components.GetByID(dbc, componentID)
		if err != nil {
			return err
		}
		if err := s.verifyOwner(dbc, row.EntityID, ownerID); err != nil {
			return err
		}
		if data.Type() != row.ComponentType {
			return validationError(fmt.Errorf("component is %q, payload is %q", row.ComponentType, data.Type()))
		}
		if err := row.SetData(data); err != nil {
			return validationError(err)
		}
		if err := s.components.Update(dbc, row); err != nil {
			return err
		}
		return s.entities.Touch(dbc, row.EntityID)
	})
	return MapStoreError(err)
}

// AddComponent attaches a new component to an existing entity.
func (s *Store) AddComponent(ctx context.Context, entityID uuid.UUID, data types.ComponentData, ownerID uuid.UUID) (uuid.UUID, error) {
	if data == nil {
		return uuid.Nil, validationError(fmt.Errorf("component data required"))
	}
	row := &types.Component{ID: uuid.New(), EntityID: entityID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.verifyOwner(dbc, entityID, ownerID); err != nil {
			return err
		}
		var existing int64
		if err := tx.WithContext(ctx).Table("components").
			Where("entity_id = ? AND component_type = ?", entityID, data.Type()).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return validationError(fmt.Errorf("entity already has a %q component", data.Type()))
		}
		if err := row.SetData(data); err != nil {
			return validationError(err)
		}
		if err := s.components.CreateMany(dbc, []*types.Component{row}); err != nil {
			return err
		}
		return s.entities.Touch(dbc, entityID)
	})
	if err != nil {
		return uuid.Nil, MapStoreError(err)
	}
	return row.ID, nil
}

// RemoveComponent detaches a component from its entity.
func (s *Store) RemoveComponent(ctx context.Context, componentID, ownerID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		row, err := s.components.GetByID(dbc, componentID)
		if err != nil {
			return err
		}
		if err := s.verifyOwner(dbc, row.EntityID, ownerID); err != nil {
			return err
		}
		if err := s.components.DeleteByID(dbc, componentID); err != nil {
			return err
		}
		return s.entities.Touch(dbc, row.EntityID)
	})
	return MapStoreError(err)
}

// DeleteEntity hard-deletes the entity and every component attached to it.
func (s *Store) DeleteEntity(ctx context.Context, id, ownerID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.verifyOwner(dbc, id, ownerID); err != nil {
			return err
		}
		if err := s.components.DeleteByEntityID(dbc, id); err != nil {
			return err
		}
		return s.entities.Delete(dbc, id)
	})
	return MapStoreError(err)
}

func (s *Store) verifyOwner(dbc dbctx.Context, entityID, ownerID uuid.UUID) error {
	t := dbc.Tx
	if t == nil {
		t = s.db
	}
	var row types.Entity
	if err := t.WithContext(dbc.Ctx).Select("id", "user_id").Where("id = ?", entityID).First(&row).Error; err != nil {
		return err
	}
	if row.UserID != ownerID {
		return ErrForbidden
	}
	return nil
}
