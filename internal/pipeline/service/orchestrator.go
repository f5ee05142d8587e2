package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessflow/internal/config"
	"github.com/smallbiznis/accessflow/internal/idempotency"
	"github.com/smallbiznis/accessflow/internal/observability/logger"
	pipelinedomain "github.com/smallbiznis/accessflow/internal/pipeline/domain"
	"github.com/smallbiznis/accessflow/internal/queue"
	usagedomain "github.com/smallbiznis/accessflow/internal/usage/domain"
	"go.uber.org/zap"
)

func (s *Service) CreateJob(ctx context.Context, tenantID snowflake.ID, req pipelinedomain.CreateRequest) (*pipelinedomain.CreateResult, error) {
	sourceURL, err := normalizeSourceURL(req.SourceURL)
	if err != nil {
		return nil, err
	}
	requested := requestedPreset(req.PresetID)
	key := idempotency.Key(sourceURL, requested, tenantID.String())
	log := logger.WithContext(ctx, s.log).With(zap.String("tenant_id", tenantID.String()))

	cacheUp := true
	if bundle, ok, err := s.lookup(ctx, key); err != nil {
		cacheUp = false
		log.Warn("idempotency cache unavailable, continuing without replay protection", zap.Error(err))
	} else if ok {
		s.obsMetrics.RecordJobReplayed(ctx, bundle.Preset)
		return &pipelinedomain.CreateResult{Bundle: *bundle, Replay: true}, nil
	}

	presetID, preset := s.presets.Get().Resolve(requested)

	bundle, err := s.enqueue(ctx, tenantID, sourceURL, presetID, preset)
	if err != nil {
		return nil, err
	}

	if cacheUp {
		if raw, err := json.Marshal(bundle); err != nil {
			log.Warn("encode bundle for idempotency cache", zap.Error(err))
		} else if err := s.idempotency.Put(ctx, key, bundle.ID, raw, 0); err != nil {
			log.Warn("idempotency cache write failed", zap.String("bundle_id", bundle.ID), zap.Error(err))
		}
	}

	if err := s.repo.Create(ctx, s.db, pipelinedomain.NewBundleRecord(bundle)); err != nil {
		log.Error("persist bundle failed", zap.String("bundle_id", bundle.ID), zap.Error(err))
	}

	if !req.JobUnitCharged {
		s.recordJobUnit(ctx, log, tenantID)
	}
	s.observeDepth(ctx, bundle.Steps)
	s.obsMetrics.RecordJobCreated(ctx, presetID)

	log.Info("pipeline created",
		zap.String("bundle_id", bundle.ID),
		zap.String("preset", presetID),
		zap.Int("steps", len(bundle.Steps.Ordered())),
	)
	return &pipelinedomain.CreateResult{Bundle: bundle}, nil
}

func (s *Service) Replay(ctx context.Context, tenantID snowflake.ID, req pipelinedomain.CreateRequest) (*pipelinedomain.Bundle, bool, error) {
	sourceURL, err := normalizeSourceURL(req.SourceURL)
	if err != nil {
		return nil, false, err
	}
	key := idempotency.Key(sourceURL, requestedPreset(req.PresetID), tenantID.String())
	return s.lookup(ctx, key)
}

func (s *Service) lookup(ctx context.Context, key string) (*pipelinedomain.Bundle, bool, error) {
	raw, ok, err := s.idempotency.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	var bundle pipelinedomain.Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, false, fmt.Errorf("decode cached bundle: %w", err)
	}
	return &bundle, true, nil
}

// enqueue submits every step in pipeline order. depends_on references are
// informational; the queue does not hold a step until its upstream finishes.
func (s *Service) enqueue(ctx context.Context, tenantID snowflake.ID, sourceURL, presetID string, preset config.Preset) (pipelinedomain.Bundle, error) {
	base := func(options any, dependsOn ...string) map[string]any {
		data := map[string]any{
			"tenant_id":  tenantID.String(),
			"source_url": sourceURL,
			"preset":     presetID,
			"options":    options,
		}
		if len(dependsOn) > 0 {
			data["depends_on"] = dependsOn
		}
		return data
	}

	var steps pipelinedomain.Steps
	var err error

	steps.Captions, err = s.queue.Enqueue(ctx, queue.Captions, queue.Job{
		Name: pipelinedomain.StepCaptions,
		Data: base(preset.Captions),
	})
	if err != nil {
		return pipelinedomain.Bundle{}, fmt.Errorf("enqueue captions: %w", err)
	}

	steps.AD, err = s.queue.Enqueue(ctx, queue.AudioDescription, queue.Job{
		Name: pipelinedomain.StepAD,
		Data: base(preset.AudioDescription, steps.Captions),
	})
	if err != nil {
		return pipelinedomain.Bundle{}, fmt.Errorf("enqueue audio description: %w", err)
	}

	steps.Color, err = s.queue.Enqueue(ctx, queue.ColorAnalysis, queue.Job{
		Name: pipelinedomain.StepColor,
		Data: base(preset.Color, steps.AD),
	})
	if err != nil {
		return pipelinedomain.Bundle{}, fmt.Errorf("enqueue color analysis: %w", err)
	}

	if preset.VideoTransform != nil {
		steps.VideoTransform, err = s.queue.Enqueue(ctx, queue.VideoTransform, queue.Job{
			Name: pipelinedomain.StepVideoTransform,
			Data: base(preset.VideoTransform, steps.Captions, steps.AD),
		})
		if err != nil {
			return pipelinedomain.Bundle{}, fmt.Errorf("enqueue video transform: %w", err)
		}
	}

	return pipelinedomain.Bundle{
		ID:        steps.Captions,
		TenantID:  tenantID,
		Steps:     steps,
		Preset:    presetID,
		SourceURL: sourceURL,
		CreatedAt: s.clock.Now(),
	}, nil
}

// recordJobUnit is advisory: errors and blocks never fail job creation.
func (s *Service) recordJobUnit(ctx context.Context, log *zap.Logger, tenantID snowflake.ID) {
	res, err := s.usage.IncrementAndGate(ctx, tenantID, usagedomain.Deltas{Jobs: 1})
	if err != nil {
		log.Warn("record job usage failed", zap.Error(err))
		return
	}
	if res.Blocked {
		log.Info("job usage over cap", zap.String("reason", res.Reason))
	}
}

func (s *Service) observeDepth(ctx context.Context, steps pipelinedomain.Steps) {
	for _, ref := range steps.Ordered() {
		depth, err := s.queue.Depth(ctx, ref.Queue)
		if err != nil {
			s.log.Debug("queue depth unavailable", zap.String("queue", ref.Queue), zap.Error(err))
			continue
		}
		s.obsMetrics.RecordQueueDepth(ctx, ref.Queue, depth)
	}
}

func normalizeSourceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", pipelinedomain.ErrInvalidSourceURL
	}
	return u.String(), nil
}

func requestedPreset(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return config.DefaultPresetID
}
