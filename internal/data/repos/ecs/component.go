package ecs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/platform/dbctx"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
)

// MatchFilters narrows the entity-id search of a typed query. Zero values
// mean "no filter".
type MatchFilters struct {
	DocumentID *uuid.UUID
	ChunkID    *string
}

type ComponentRepo interface {
	CreateMany(dbc dbctx.Context, rows []*types.Component) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Component, error)
	GetByEntityIDs(dbc dbctx.Context, entityIDs []uuid.UUID) ([]*types.Component, error)
	Update(dbc dbctx.Context, row *types.Component) error
	DeleteByID(dbc dbctx.Context, id uuid.UUID) error
	DeleteByEntityID(dbc dbctx.Context, entityID uuid.UUID) error
	// FindEntityIDs is phase one of the two-phase query: the distinct ids of
	// the caller's entities holding at least one component whose type is in
	// componentTypes (any type when empty), honoring the filters.
	FindEntityIDs(dbc dbctx.Context, userID uuid.UUID, componentTypes []string, f MatchFilters) ([]uuid.UUID, error)
}

type componentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewComponentRepo(db *gorm.DB, baseLog *logger.Logger) ComponentRepo {
	return &componentRepo{db: db, log: baseLog.With("repo", "ComponentRepo")}
}

func (r *componentRepo) CreateMany(dbc dbctx.Context, rows []*types.Component) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, row := range rows {
		if row == nil {
			continue
		}
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		row.UpdatedAt = now
	}
	return t.WithContext(dbc.Ctx).Create(rows).Error
}

func (r *componentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Component, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var row types.Component
	if err := t.WithContext(dbc.Ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *componentRepo) GetByEntityIDs(dbc dbctx.Context, entityIDs []uuid.UUID) ([]*types.Component, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var rows []*types.Component
	if len(entityIDs) == 0 {
		return rows, nil
	}
	err := t.WithContext(dbc.Ctx).
		Where("entity_id IN ?", entityIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Update replaces the payload columns wholesale. Data and its denormalized
// mirrors travel together in one statement so a racing reader never sees one
// without the other.
func (r *componentRepo) Update(dbc dbctx.Context, row *types.Component) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	row.UpdatedAt = time.Now().UTC()
	return t.WithContext(dbc.Ctx).
		Model(&types.Component{}).
		Where("id = ?", row.ID).
		Updates(map[string]interface{}{
			"component_type": row.ComponentType,
			"data":           row.Data,
			"chunk_id":       row.ChunkID,
			"document_id":    row.DocumentID,
			"updated_at":     row.UpdatedAt,
		}).Error
}

func (r *componentRepo) DeleteByID(dbc dbctx.Context, id uuid.UUID) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).Where("id = ?", id).Delete(&types.Component{}).Error
}

func (r *componentRepo) DeleteByEntityID(dbc dbctx.Context, entityID uuid.UUID) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).Where("entity_id = ?", entityID).Delete(&types.Component{}).Error
}

func (r *componentRepo) FindEntityIDs(dbc dbctx.Context, userID uuid.UUID, componentTypes []string, f MatchFilters) ([]uuid.UUID, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	q := t.WithContext(dbc.Ctx).
		Table("components").
		Select("DISTINCT components.entity_id").
		Joins("JOIN entities ON entities.id = components.entity_id").
		Where("entities.user_id = ?", userID)
	if len(componentTypes) > 0 {
		q = q.Where("components.component_type IN ?", componentTypes)
	}
	if f.DocumentID != nil {
		q = q.Where("components.document_id = ?", *f.DocumentID)
	}
	if f.ChunkID != nil {
		q = q.Where("components.chunk_id = ?", *f.ChunkID)
	}
	var ids []uuid.UUID
	if err := q.Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
