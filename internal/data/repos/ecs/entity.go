package ecs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/platform/dbctx"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
)

type EntityRepo interface {
	Create(dbc dbctx.Context, row *types.Entity) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Entity, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Entity, error)
	GetByUserID(dbc dbctx.Context, userID uuid.UUID) ([]*types.Entity, error)
	Touch(dbc dbctx.Context, id uuid.UUID) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type entityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEntityRepo(db *gorm.DB, baseLog *logger.Logger) EntityRepo {
	return &entityRepo{db: db, log: baseLog.With("repo", "EntityRepo")}
}

func (r *entityRepo) Create(dbc dbctx.Context, row *types.Entity) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	return t.WithContext(dbc.Ctx).Omit("Components").Create(row).Error
}

func (r *entityRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Entity, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var row types.Entity
	err := t.WithContext(dbc.Ctx).
		Preload("Components").
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *entityRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Entity, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var rows []*types.Entity
	if len(ids) == 0 {
		return rows, nil
	}
	err := t.WithContext(dbc.Ctx).
		Preload("Components").
		Where("id IN ?", ids).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *entityRepo) GetByUserID(dbc dbctx.Context, userID uuid.UUID) ([]*types.Entity, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var rows []*types.Entity
	err := t.WithContext(dbc.Ctx).
		Preload("Components").
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *entityRepo) Touch(dbc dbctx.Context, id uuid.UUID) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.Entity{}).
		Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}

func (r *entityRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&types.Entity{}).Error
}
