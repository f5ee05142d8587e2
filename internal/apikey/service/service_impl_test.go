package service

import (
	"context"
	"testing"
	"time"

	apikeydomain "github.com/smallbiznis/accessflow/internal/apikey/domain"
	"github.com/smallbiznis/accessflow/internal/apikey/repository"
	"github.com/smallbiznis/accessflow/internal/clock"
	"github.com/smallbiznis/accessflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIssueAndResolve(t *testing.T) {
	db := testutil.OpenSQLite(t, &apikeydomain.APIKey{})
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := New(Params{DB: db, Log: zap.NewNop(), GenID: testutil.Snowflake(t), Clock: clk, Repo: repository.Provide()})
	ctx := context.Background()

	secret, err := svc.Issue(ctx, nil, 77, "ci")
	require.NoError(t, err)
	assert.NotEmpty(t, secret.KeyID)

	var stored apikeydomain.APIKey
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, apikeydomain.HashAPIKey(secret.APIKey), stored.KeyHash)
	assert.NotContains(t, stored.KeyHash, secret.APIKey)

	tenantID, err := svc.Resolve(ctx, secret.APIKey)
	require.NoError(t, err)
	assert.EqualValues(t, 77, tenantID)

	require.NoError(t, db.First(&stored).Error)
	require.NotNil(t, stored.LastUsedAt)
}

func TestResolveRejectsUnknownKey(t *testing.T) {
	db := testutil.OpenSQLite(t, &apikeydomain.APIKey{})
	svc := New(Params{DB: db, Log: zap.NewNop(), GenID: testutil.Snowflake(t), Clock: clock.System{}, Repo: repository.Provide()})

	_, err := svc.Resolve(context.Background(), "af_live_nope")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
	_, err = svc.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}

func TestIssueValidates(t *testing.T) {
	db := testutil.OpenSQLite(t, &apikeydomain.APIKey{})
	svc := New(Params{DB: db, Log: zap.NewNop(), GenID: testutil.Snowflake(t), Clock: clock.System{}, Repo: repository.Provide()})

	_, err := svc.Issue(context.Background(), nil, 0, "x")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidTenant)
	_, err = svc.Issue(context.Background(), nil, 1, " ")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidName)
}
