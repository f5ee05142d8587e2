package service

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/accessflow/internal/apikey/domain"
	"github.com/smallbiznis/accessflow/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// last_used_at is refreshed at most this often per key.
const touchInterval = time.Minute

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  apikeydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  apikeydomain.Repository
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Issue(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, name string) (*apikeydomain.Secret, error) {
	if tenantID == 0 {
		return nil, apikeydomain.ErrInvalidTenant
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	if tx == nil {
		tx = s.db
	}

	plain, hash, err := apikeydomain.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.APIKey{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   hash,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, tx, key); err != nil {
		return nil, err
	}

	return &apikeydomain.Secret{KeyID: key.ID.String(), APIKey: plain}, nil
}

func (s *Service) Resolve(ctx context.Context, raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, apikeydomain.ErrInvalidKey
	}

	hash := apikeydomain.HashAPIKey(raw)
	key, err := s.repo.FindByHash(ctx, s.db, hash)
	if err != nil {
		return 0, err
	}
	if key == nil || subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return 0, apikeydomain.ErrInvalidKey
	}

	now := s.clock.Now()
	if key.LastUsedAt == nil || now.Sub(*key.LastUsedAt) >= touchInterval {
		if err := s.repo.TouchLastUsed(ctx, s.db, key.ID, now); err != nil {
			s.log.Warn("failed to record api key usage", zap.String("api_key_id", key.ID.String()), zap.Error(err))
		}
	}

	return key.TenantID, nil
}
