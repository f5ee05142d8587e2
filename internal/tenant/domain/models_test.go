package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveState(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.Equal(t, StatusActive, EffectiveState(true, &past, now))
	assert.Equal(t, StatusGrace, EffectiveState(false, &future, now))
	assert.Equal(t, StatusExpired, EffectiveState(false, &past, now))
	assert.Equal(t, StatusExpired, EffectiveState(false, &now, now))
	assert.Equal(t, StatusExpired, EffectiveState(false, nil, now))
}

func TestSnapshotUsable(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	assert.True(t, Snapshot{Active: true}.Usable(now))
	assert.True(t, Snapshot{GraceUntil: &future}.Usable(now))
	assert.False(t, Snapshot{}.Usable(now))
}

func TestParsePlan(t *testing.T) {
	p, err := ParsePlan("")
	assert.NoError(t, err)
	assert.Equal(t, PlanStandard, p)

	p, err = ParsePlan(" Enterprise ")
	assert.NoError(t, err)
	assert.Equal(t, PlanEnterprise, p)

	_, err = ParsePlan("gold")
	assert.ErrorIs(t, err, ErrInvalidPlan)
}
