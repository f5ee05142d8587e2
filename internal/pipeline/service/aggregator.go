package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessflow/internal/observability/logger"
	pipelinedomain "github.com/smallbiznis/accessflow/internal/pipeline/domain"
	"github.com/smallbiznis/accessflow/internal/queue"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

func (s *Service) GetStatus(ctx context.Context, tenantID snowflake.ID, bundleID string) (*pipelinedomain.Status, error) {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return nil, pipelinedomain.ErrBundleNotFound
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("bundle_id", bundleID))

	bundle, err := s.resolveBundle(ctx, log, bundleID)
	if err != nil {
		return nil, err
	}
	if bundle.TenantID != tenantID {
		return nil, pipelinedomain.ErrBundleNotFound
	}

	refs := bundle.Steps.Ordered()
	results := make([]pipelinedomain.StepResult, len(refs))

	p := pool.New().WithMaxGoroutines(len(refs))
	for i, ref := range refs {
		p.Go(func() {
			results[i] = s.stepResult(ctx, log, bundle, ref)
		})
	}
	p.Wait()

	status := &pipelinedomain.Status{
		ID:        bundle.ID,
		Steps:     make(map[string]pipelinedomain.StepResult, len(refs)),
		Preset:    bundle.Preset,
		CreatedAt: bundle.CreatedAt,
	}
	states := make([]pipelinedomain.StepStatus, 0, len(refs))
	for i, ref := range refs {
		status.Steps[ref.Name] = results[i]
		states = append(states, results[i].Status)
	}
	status.Overall = pipelinedomain.Overall(states)
	return status, nil
}

// resolveBundle tries the cache index first and the persisted index second.
func (s *Service) resolveBundle(ctx context.Context, log *zap.Logger, bundleID string) (*pipelinedomain.Bundle, error) {
	raw, ok, err := s.idempotency.GetByBundleID(ctx, bundleID)
	switch {
	case err != nil:
		log.Warn("bundle cache lookup failed", zap.Error(err))
	case ok:
		var bundle pipelinedomain.Bundle
		if err := json.Unmarshal(raw, &bundle); err == nil {
			return &bundle, nil
		}
		log.Warn("cached bundle undecodable, falling back to store")
	}

	record, err := s.repo.FindByID(ctx, s.db, bundleID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, pipelinedomain.ErrBundleNotFound
	}
	bundle := record.Bundle()
	return &bundle, nil
}

// stepResult never fails: an expired or unreadable job reads as pending.
func (s *Service) stepResult(ctx context.Context, log *zap.Logger, bundle *pipelinedomain.Bundle, ref pipelinedomain.StepRef) pipelinedomain.StepResult {
	result := pipelinedomain.StepResult{Status: pipelinedomain.StatusPending, JobID: ref.JobID}

	job, err := s.queue.Get(ctx, ref.Queue, ref.JobID)
	if err != nil {
		if !errors.Is(err, queue.ErrJobNotFound) {
			log.Warn("step lookup failed", zap.String("step", ref.Name), zap.Error(err))
		}
		return result
	}

	result.Status = pipelinedomain.StepStatusOf(job)
	switch result.Status {
	case pipelinedomain.StatusFailed:
		result.FailedReason = job.FailedReason
		s.obsMetrics.RecordStepFailure(ctx, ref.Name)
	case pipelinedomain.StatusCompleted:
		result.ArtifactKey = artifactKey(bundle, ref.Name, job.ReturnValue)
		if s.signer != nil {
			signed, err := s.signer.SignGet(ctx, result.ArtifactKey, 0)
			if err != nil {
				log.Warn("sign artifact url failed", zap.String("step", ref.Name), zap.Error(err))
			} else {
				result.URL = signed
			}
		}
	}
	return result
}

// artifactKey reads the worker's return value: a JSON object carrying
// artifact_key, or a bare key. Without one the conventional path is used.
func artifactKey(bundle *pipelinedomain.Bundle, step, returnValue string) string {
	returnValue = strings.TrimSpace(returnValue)
	if strings.HasPrefix(returnValue, "{") {
		var rv struct {
			ArtifactKey string `json:"artifact_key"`
		}
		if err := json.Unmarshal([]byte(returnValue), &rv); err == nil && rv.ArtifactKey != "" {
			return rv.ArtifactKey
		}
	} else if returnValue != "" {
		return returnValue
	}
	return bundle.TenantID.String() + "/" + bundle.ID + "/" + step
}
