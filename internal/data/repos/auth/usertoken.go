package auth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/platform/dbctx"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
)

type UserTokenRepo interface {
	Create(dbc dbctx.Context, row *types.UserToken) error
	GetByAccessToken(dbc dbctx.Context, accessToken string) (*types.UserToken, error)
	GetByRefreshToken(dbc dbctx.Context, refreshToken string) (*types.UserToken, error)
	DeleteByID(dbc dbctx.Context, id uuid.UUID) error
	DeleteExpired(dbc dbctx.Context, before time.Time) error
}

type userTokenRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserTokenRepo(db *gorm.DB, baseLog *logger.Logger) UserTokenRepo {
	return &userTokenRepo{db: db, log: baseLog.With("repo", "UserTokenRepo")}
}

func (r *userTokenRepo) Create(dbc dbctx.Context, row *types.UserToken) error {
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
	return t.WithContext(dbc.Ctx).Create(row).Error
}

func (r *userTokenRepo) GetByAccessToken(dbc dbctx.Context, accessToken string) (*types.UserToken, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var row types.UserToken
	if err := t.WithContext(dbc.Ctx).Where("access_token = ?", accessToken).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *userTokenRepo) GetByRefreshToken(dbc dbctx.Context, refreshToken string) (*types.UserToken, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var row types.UserToken
	if err := t.WithContext(dbc.Ctx).Where("refresh_token = ?", refreshToken).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *userTokenRepo) DeleteByID(dbc dbctx.Context, id uuid.UUID) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).Where("id = ?", id).Delete(&types.UserToken{}).Error
}

func (r *userTokenRepo) DeleteExpired(dbc dbctx.Context, before time.Time) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).Where("expires_at < ?", before).Delete(&types.UserToken{}).Error
}
