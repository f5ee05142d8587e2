package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/smallbiznis/accessflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testArtifacts() config.ArtifactConfig {
	return config.ArtifactConfig{
		Bucket:       "artifacts",
		Region:       "us-east-1",
		Endpoint:     "http://localhost:9000",
		AccessKey:    "minio",
		SecretKey:    "minio-secret",
		URLTTL:       time.Hour,
		UsePathStyle: true,
	}
}

func TestNewProviderWithoutBucket(t *testing.T) {
	p, err := NewProvider(config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSignGetPresignsPathStyleURL(t *testing.T) {
	p, err := NewS3Provider(context.Background(), testArtifacts())
	require.NoError(t, err)

	raw, err := p.SignGet(context.Background(), "/bundles/b1/captions.vtt", 10*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/artifacts/bundles/b1/captions.vtt", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestSignGetDefaultTTL(t *testing.T) {
	p, err := NewS3Provider(context.Background(), testArtifacts())
	require.NoError(t, err)

	raw, err := p.SignGet(context.Background(), "k", 0)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
}

func TestSignGetRejectsEmptyKey(t *testing.T) {
	p, err := NewS3Provider(context.Background(), testArtifacts())
	require.NoError(t, err)

	_, err = p.SignGet(context.Background(), " ", 0)
	assert.ErrorIs(t, err, ErrEmptyKey)
}
