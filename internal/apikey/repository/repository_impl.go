package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/accessflow/internal/apikey/domain"
	"github.com/smallbiznis/accessflow/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return repository.ProvideStore[apikeydomain.APIKey](db).Create(ctx, key)
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*apikeydomain.APIKey, error) {
	return repository.ProvideStore[apikeydomain.APIKey](db).FindOne(ctx, &apikeydomain.APIKey{KeyHash: hash})
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&apikeydomain.APIKey{}).
		Where("id = ?", id).
		UpdateColumn("last_used_at", at).Error
}
