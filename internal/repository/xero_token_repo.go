package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pop-reconciliation-backend/internal/models"
)

type TokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Save(ctx context.Context, tok *models.XeroToken) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(tok).Error
}

func (r *TokenRepository) Get(ctx context.Context, identifier string) (*models.XeroToken, error) {
	var tok models.XeroToken
	err := r.db.WithContext(ctx).First(&tok, "token_identifier = ?", identifier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}
