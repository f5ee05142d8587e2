package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/accessflow/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/accessflow/internal/audit/domain"
	"github.com/smallbiznis/accessflow/internal/billing/adapters"
	billingdomain "github.com/smallbiznis/accessflow/internal/billing/domain"
	"github.com/smallbiznis/accessflow/internal/clock"
	"github.com/smallbiznis/accessflow/internal/config"
	pipelinedomain "github.com/smallbiznis/accessflow/internal/pipeline/domain"
	"github.com/smallbiznis/accessflow/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	"github.com/smallbiznis/accessflow/internal/testutil"
	usagedomain "github.com/smallbiznis/accessflow/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testKey    = "af_live_test"
	adminToken = "admin-secret"
)

var testTenant = snowflake.ID(42)

type fakeAPIKeys struct{}

func (fakeAPIKeys) Issue(context.Context, *gorm.DB, snowflake.ID, string) (*apikeydomain.Secret, error) {
	return nil, errors.New("not used")
}

func (fakeAPIKeys) Resolve(_ context.Context, raw string) (snowflake.ID, error) {
	if raw == testKey {
		return testTenant, nil
	}
	return 0, apikeydomain.ErrInvalidKey
}

type fakeTenants struct {
	snapshot tenantdomain.Snapshot
	provided []tenantdomain.ProvisionRequest
}

func (f *fakeTenants) Get(context.Context, snowflake.ID) (*tenantdomain.Tenant, error) {
	return nil, tenantdomain.ErrTenantNotFound
}

func (f *fakeTenants) Snapshot(context.Context, snowflake.ID) (tenantdomain.Snapshot, error) {
	return f.snapshot, nil
}

func (f *fakeTenants) Invalidate(snowflake.ID) {}

func (f *fakeTenants) Provision(_ context.Context, _ *gorm.DB, req tenantdomain.ProvisionRequest) (*tenantdomain.ProvisionResult, error) {
	f.provided = append(f.provided, req)
	return &tenantdomain.ProvisionResult{
		Tenant: tenantdomain.Tenant{ID: 7, Name: req.Name, Email: &req.Email, Plan: tenantdomain.PlanStandard, Active: true},
		APIKey: "af_live_new",
	}, nil
}

type fakePipeline struct {
	replay    *pipelinedomain.Bundle
	replayErr error
	createErr error
	raced     bool
	created   []pipelinedomain.CreateRequest
	status    *pipelinedomain.Status
}

func (f *fakePipeline) CreateJob(_ context.Context, tenantID snowflake.ID, req pipelinedomain.CreateRequest) (*pipelinedomain.CreateResult, error) {
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &pipelinedomain.CreateResult{Bundle: testBundle(tenantID), Replay: f.raced}, nil
}

func (f *fakePipeline) Replay(context.Context, snowflake.ID, pipelinedomain.CreateRequest) (*pipelinedomain.Bundle, bool, error) {
	if f.replayErr != nil {
		return nil, false, f.replayErr
	}
	return f.replay, f.replay != nil, nil
}

func (f *fakePipeline) GetStatus(context.Context, snowflake.ID, string) (*pipelinedomain.Status, error) {
	if f.status == nil {
		return nil, pipelinedomain.ErrBundleNotFound
	}
	return f.status, nil
}

type fakeUsage struct {
	gate     usagedomain.GateResult
	deltas   []usagedomain.Deltas
	released []usagedomain.Deltas
	snap     usagedomain.Snapshot
}

func (f *fakeUsage) IncrementAndGate(_ context.Context, _ snowflake.ID, d usagedomain.Deltas) (usagedomain.GateResult, error) {
	f.deltas = append(f.deltas, d)
	return f.gate, nil
}

func (f *fakeUsage) Current(context.Context, snowflake.ID) (usagedomain.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeUsage) Reset(context.Context, *gorm.DB, snowflake.ID) error { return nil }

func (f *fakeUsage) Release(_ context.Context, _ snowflake.ID, _ time.Time, d usagedomain.Deltas) error {
	f.released = append(f.released, d)
	return nil
}

type fakeSubscriptions struct {
	applied     []subscriptiondomain.Event
	applyErr    error
	subscribeTo string
}

func (f *fakeSubscriptions) Apply(_ context.Context, ev subscriptiondomain.Event) (subscriptiondomain.Result, error) {
	f.applied = append(f.applied, ev)
	return subscriptiondomain.Result{Outcome: subscriptiondomain.OutcomeApplied}, f.applyErr
}

func (f *fakeSubscriptions) Get(context.Context, snowflake.ID) (*subscriptiondomain.View, error) {
	return &subscriptiondomain.View{Status: tenantdomain.StatusActive, Plan: tenantdomain.PlanPro, Active: true}, nil
}

func (f *fakeSubscriptions) Subscribe(_ context.Context, _ snowflake.ID, plan string) (*subscriptiondomain.CheckoutSession, error) {
	f.subscribeTo = plan
	return nil, billingdomain.ErrProviderUnconfigured
}

func (f *fakeSubscriptions) ExpireElapsedGrace(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

type fakeProvider struct {
	event *subscriptiondomain.Event
	err   error
}

func (p *fakeProvider) Name() string { return "stripe" }

func (p *fakeProvider) ParseWebhook(context.Context, []byte, http.Header) (*subscriptiondomain.Event, error) {
	return p.event, p.err
}

func (p *fakeProvider) CreateCheckout(context.Context, billingdomain.CheckoutRequest) (*subscriptiondomain.CheckoutSession, error) {
	return nil, billingdomain.ErrProviderUnconfigured
}

type fakeAudit struct {
	last auditdomain.ListRequest
}

func (f *fakeAudit) Record(context.Context, *gorm.DB, auditdomain.Entry) error { return nil }

func (f *fakeAudit) List(_ context.Context, req auditdomain.ListRequest) ([]auditdomain.AuditLog, error) {
	f.last = req
	return []auditdomain.AuditLog{{ID: 1, TenantID: req.TenantID, ActorType: auditdomain.ActorSystem, Action: auditdomain.ActionGraceExpired}}, nil
}

type harness struct {
	engine        *gin.Engine
	tenants       *fakeTenants
	pipeline      *fakePipeline
	usage         *fakeUsage
	subscriptions *fakeSubscriptions
	provider      *fakeProvider
	audit         *fakeAudit
}

func newHarness(t *testing.T, limiter *ratelimit.TokenBucket) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	h := &harness{
		tenants:       &fakeTenants{snapshot: tenantdomain.Snapshot{TenantID: testTenant, Active: true}},
		pipeline:      &fakePipeline{},
		usage:         &fakeUsage{},
		subscriptions: &fakeSubscriptions{},
		provider:      &fakeProvider{},
		audit:         &fakeAudit{},
	}

	engine := NewEngine(EngineParams{})
	NewServer(ServerParams{
		Gin:             engine,
		Cfg:             config.Config{AdminToken: adminToken},
		Log:             zap.NewNop(),
		Clock:           clock.NewFakeClock(now),
		APIKeySvc:       fakeAPIKeys{},
		TenantSvc:       h.tenants,
		PipelineSvc:     h.pipeline,
		UsageSvc:        h.usage,
		SubscriptionSvc: h.subscriptions,
		Billing:         adapters.NewRegistry(h.provider),
		Audit:           h.audit,
		Limiter:         limiter,
	})
	h.engine = engine
	return h
}

func (h *harness) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func authed() map[string]string {
	return map[string]string{HeaderAPIKey: testKey}
}

func testBundle(tenantID snowflake.ID) pipelinedomain.Bundle {
	return pipelinedomain.Bundle{
		ID:       "101",
		TenantID: tenantID,
		Steps:    pipelinedomain.Steps{Captions: "101", AD: "102", Color: "103"},
		Preset:   "everyday",
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/v1/me/subscription", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/v1/me/subscription", nil, map[string]string{HeaderAPIKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/v1/me/subscription", nil, map[string]string{"Authorization": "Bearer " + testKey})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/v1/me/subscription", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"active","plan":"pro","active":true,"grace_until":null,"expires_at":null,"created_at":"0001-01-01T00:00:00Z"}`, rec.Body.String())
}

func TestCreateJobCreatesBundle(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/v1/jobs", map[string]any{
		"source_url":             "https://cdn.example.com/a.mp4",
		"preset_id":              "broadcast",
		"estimated_minutes":      12,
		"estimated_egress_bytes": 2048,
	}, authed())

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "101", body["id"])
	assert.NotContains(t, body, "replay")

	require.Len(t, h.usage.deltas, 1)
	assert.Equal(t, usagedomain.Deltas{Minutes: 12, Jobs: 1, EgressBytes: 2048}, h.usage.deltas[0])
	require.Len(t, h.pipeline.created, 1)
	assert.Equal(t, "broadcast", h.pipeline.created[0].PresetID)
	assert.True(t, h.pipeline.created[0].JobUnitCharged)
	assert.Empty(t, h.usage.released)
}

func TestCreateJobFailureReleasesCharge(t *testing.T) {
	h := newHarness(t, nil)
	h.pipeline.createErr = errors.New("queue down")

	rec := h.do(http.MethodPost, "/v1/jobs", map[string]any{
		"source_url":        "https://cdn.example.com/a.mp4",
		"estimated_minutes": 300,
	}, authed())

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, h.usage.released, 1)
	assert.Equal(t, usagedomain.Deltas{Minutes: 300, Jobs: 1}, h.usage.released[0])
}

func TestCreateJobRacedReplayReleasesCharge(t *testing.T) {
	h := newHarness(t, nil)
	h.pipeline.raced = true

	rec := h.do(http.MethodPost, "/v1/jobs", map[string]any{
		"source_url":        "https://cdn.example.com/a.mp4",
		"estimated_minutes": 7,
	}, authed())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"replay":true`)
	require.Len(t, h.usage.released, 1)
	assert.Equal(t, h.usage.deltas[0], h.usage.released[0])
}

func TestCreateJobReplaySkipsGate(t *testing.T) {
	h := newHarness(t, nil)
	b := testBundle(testTenant)
	h.pipeline.replay = &b
	h.tenants.snapshot = tenantdomain.Snapshot{TenantID: testTenant}

	rec := h.do(http.MethodPost, "/v1/jobs", map[string]any{"source_url": "https://cdn.example.com/a.mp4"}, authed())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"replay":true`)
	assert.Empty(t, h.usage.deltas)
	assert.Empty(t, h.pipeline.created)
}

func TestCreateJobReplayLookupFailureProceeds(t *testing.T) {
	h := newHarness(t, nil)
	h.pipeline.replayErr = errors.New("redis down")

	rec := h.do(http.MethodPost, "/v1/jobs", map[string]any{"source_url": "https://cdn.example.com/a.mp4"}, authed())

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, h.pipeline.created, 1)
}

func TestCreateJobRejectsInvalidBody(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/v1/jobs", map[string]any{"source_url": "not a url"}, authed())

	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "source_url", payload.Errors[0].Field)
	assert.Equal(t, "url", payload.Errors[0].Code)
}

func TestCreateJobRejectsUnsupportedScheme(t *testing.T) {
	h := newHarness(t, nil)
	h.pipeline.replayErr = pipelinedomain.ErrInvalidSourceURL

	rec := h.do(http.MethodPost, "/v1/jobs", map[string]any{"source_url": "ftp://cdn.example.com/a.mp4"}, authed())

	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "source_url", payload.Errors[0].Field)
	assert.Equal(t, "invalid_source_url", payload.Errors[0].Code)
	assert.Empty(t, h.pipeline.created)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"nil", nil, http.StatusInternalServerError, "internal_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
		{"wrapped validation sentinel", fmt.Errorf("create: %w", usagedomain.ErrInvalidDelta), http.StatusBadRequest, "validation_error"},
		{"invalid key", apikeydomain.ErrInvalidKey, http.StatusUnauthorized, "unauthorized"},
		{"payment required", ErrPaymentRequired, http.StatusPaymentRequired, "payment_required"},
		{"duplicate key", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), http.StatusConflict, "conflict"},
		{"record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"pricing unset", billingdomain.ErrPricingUnset, http.StatusServiceUnavailable, "service_unavailable"},
		{"rate limited", &RateLimitedError{ResetSeconds: 5}, http.StatusTooManyRequests, "rate_limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, payload.Type)
		})
	}

	_, payload := mapError(fmt.Errorf("create: %w", usagedomain.ErrInvalidDelta))
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_usage_delta", payload.Errors[0].Code)
	assert.Equal(t, "usage_delta", payload.Errors[0].Field)
}

func TestCreateJobUsageBlocked(t *testing.T) {
	h := newHarness(t, nil)
	h.usage.gate = usagedomain.GateResult{Blocked: true, Reason: usagedomain.ReasonMinutes}

	rec := h.do(http.MethodPost, "/v1/jobs", map[string]any{"source_url": "https://cdn.example.com/a.mp4"}, authed())

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "usage_blocked", payload.Type)
	assert.Equal(t, "minutes", payload.Reason)
	assert.Empty(t, h.pipeline.created)
}

func TestCreateJobExpiredTenant(t *testing.T) {
	h := newHarness(t, nil)
	h.tenants.snapshot = tenantdomain.Snapshot{TenantID: testTenant, Active: false}

	rec := h.do(http.MethodPost, "/v1/jobs", map[string]any{"source_url": "https://cdn.example.com/a.mp4"}, authed())

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Empty(t, h.usage.deltas)
}

func TestCreateJobGraceTenantIsServed(t *testing.T) {
	h := newHarness(t, nil)
	graceUntil := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	h.tenants.snapshot = tenantdomain.Snapshot{TenantID: testTenant, GraceUntil: &graceUntil}

	rec := h.do(http.MethodPost, "/v1/jobs", map[string]any{"source_url": "https://cdn.example.com/a.mp4"}, authed())

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetJob(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/v1/jobs/999", nil, authed())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.pipeline.status = &pipelinedomain.Status{
		ID:      "101",
		Overall: pipelinedomain.StatusProcessing,
		Steps: map[string]pipelinedomain.StepResult{
			pipelinedomain.StepCaptions: {Status: pipelinedomain.StatusCompleted, JobID: "101", URL: "https://signed"},
			pipelinedomain.StepAD:       {Status: pipelinedomain.StatusPending, JobID: "102"},
		},
		Preset: "everyday",
	}
	rec = h.do(http.MethodGet, "/v1/jobs/101", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"processing"`)
	assert.Contains(t, rec.Body.String(), `"url":"https://signed"`)
}

func TestGetUsage(t *testing.T) {
	h := newHarness(t, nil)
	h.usage.snap = usagedomain.Snapshot{
		PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Usage:       usagedomain.Usage{Minutes: 5, Jobs: 2, EgressBytes: 100},
		Caps:        usagedomain.Caps{Minutes: 1000, Jobs: 200},
	}

	rec := h.do(http.MethodGet, "/v1/me/usage", nil, authed())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"period_start": "2026-03-01T00:00:00Z",
		"minutes_used": 5,
		"jobs": 2,
		"egress_bytes": 100,
		"caps": {"minutes": 1000, "jobs": 200, "egress_bytes": 0}
	}`, rec.Body.String())
}

func TestRateLimitRejectsWhenBucketEmpty(t *testing.T) {
	client, _ := testutil.OpenRedis(t)
	cfg := config.Config{RateLimit: config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillAmount:   2,
		RefillInterval: time.Minute,
	}}
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	h := newHarness(t, ratelimit.NewTokenBucket(client, clk, cfg, zap.NewNop()))

	for i := 0; i < 2; i++ {
		rec := h.do(http.MethodGet, "/v1/me/usage", nil, authed())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := h.do(http.MethodGet, "/v1/me/usage", nil, authed())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	payload := decodeError(t, rec)
	assert.Equal(t, "rate_limited", payload.Reason)
	require.NotNil(t, payload.ResetSeconds)
	assert.Equal(t, 60, *payload.ResetSeconds)
}

func TestRateLimitAdmitsWhenRedisFails(t *testing.T) {
	client, mr := testutil.OpenRedis(t)
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, Capacity: 1, RefillAmount: 1, RefillInterval: time.Minute}}
	h := newHarness(t, ratelimit.NewTokenBucket(client, clock.System{}, cfg, zap.NewNop()))
	mr.Close()

	for i := 0; i < 3; i++ {
		rec := h.do(http.MethodGet, "/v1/me/usage", nil, authed())
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestBillingWebhook(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		eventType subscriptiondomain.EventType
		parseErr  error
		applyErr  error
		wantCode  int
		wantApply bool
	}{
		{name: "applied", provider: "stripe", wantCode: http.StatusOK, wantApply: true},
		{name: "unknown provider", provider: "paypal", wantCode: http.StatusNotFound},
		{name: "bad signature", provider: "stripe", parseErr: billingdomain.ErrInvalidSignature, wantCode: http.StatusBadRequest},
		{name: "unconfigured", provider: "stripe", parseErr: billingdomain.ErrProviderUnconfigured, wantCode: http.StatusServiceUnavailable},
		{name: "ignored type", provider: "stripe", parseErr: billingdomain.ErrEventIgnored, wantCode: http.StatusOK},
		{name: "payment failed for unknown tenant", provider: "stripe", applyErr: tenantdomain.ErrTenantNotFound, wantCode: http.StatusConflict, wantApply: true},
		{name: "payment succeeded for unknown tenant", provider: "stripe", eventType: subscriptiondomain.EventPaymentSucceeded, applyErr: tenantdomain.ErrTenantNotFound, wantCode: http.StatusConflict, wantApply: true},
		{name: "deletion for unknown tenant", provider: "stripe", eventType: subscriptiondomain.EventSubscriptionDeleted, applyErr: tenantdomain.ErrTenantNotFound, wantCode: http.StatusOK, wantApply: true},
		{name: "update for unknown tenant", provider: "stripe", eventType: subscriptiondomain.EventSubscriptionUpdated, applyErr: tenantdomain.ErrTenantNotFound, wantCode: http.StatusOK, wantApply: true},
		{name: "store failure", provider: "stripe", applyErr: errors.New("db down"), wantCode: http.StatusInternalServerError, wantApply: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eventType := tt.eventType
			if eventType == "" {
				eventType = subscriptiondomain.EventPaymentFailed
			}
			h := newHarness(t, nil)
			h.provider.event = &subscriptiondomain.Event{ID: "evt_1", Provider: "stripe", Type: eventType, CustomerID: "cus_1"}
			h.provider.err = tt.parseErr
			h.subscriptions.applyErr = tt.applyErr

			rec := h.do(http.MethodPost, "/webhooks/"+tt.provider, map[string]any{"id": "evt_1"}, nil)

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantApply {
				assert.Len(t, h.subscriptions.applied, 1)
			} else {
				assert.Empty(t, h.subscriptions.applied)
			}
			switch tt.wantCode {
			case http.StatusOK:
				assert.JSONEq(t, `{"received":true}`, rec.Body.String())
			case http.StatusConflict:
				assert.Equal(t, "conflict", decodeError(t, rec).Type)
			}
		})
	}
}

func TestSubscribeUnconfigured(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/v1/billing/subscribe", map[string]any{"plan": "pro"}, authed())

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "pro", h.subscriptions.subscribeTo)
}

func TestProvisionTenant(t *testing.T) {
	h := newHarness(t, nil)
	body := map[string]any{"name": "Acme", "email": "ops@acme.test", "plan": "standard"}

	rec := h.do(http.MethodPost, "/internal/tenants", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/internal/tenants", map[string]any{"name": "Acme"}, map[string]string{HeaderAdminToken: adminToken})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/internal/tenants", body, map[string]string{HeaderAdminToken: adminToken})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"api_key":"af_live_new"`)
	require.Len(t, h.tenants.provided, 1)
	assert.Equal(t, "ops@acme.test", h.tenants.provided[0].Email)
}

func TestInternalRoutesHiddenWithoutAdminToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := NewEngine(EngineParams{})
	NewServer(ServerParams{
		Gin:             engine,
		Log:             zap.NewNop(),
		Clock:           clock.System{},
		APIKeySvc:       fakeAPIKeys{},
		TenantSvc:       &fakeTenants{},
		PipelineSvc:     &fakePipeline{},
		UsageSvc:        &fakeUsage{},
		SubscriptionSvc: &fakeSubscriptions{},
	})

	req := httptest.NewRequest(http.MethodPost, "/internal/tenants", bytes.NewBufferString(`{}`))
	req.Header.Set(HeaderAdminToken, "anything")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAuditLogs(t *testing.T) {
	h := newHarness(t, nil)
	admin := map[string]string{HeaderAdminToken: adminToken}

	rec := h.do(http.MethodGet, "/internal/tenants/42/audit-logs?action=subscription.grace_expired&limit=10&before=2026-03-01T00:00:00Z", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"action":"subscription.grace_expired"`)
	assert.Equal(t, testTenant, h.audit.last.TenantID)
	assert.Equal(t, 10, h.audit.last.Limit)
	require.NotNil(t, h.audit.last.Before)

	rec = h.do(http.MethodGet, "/internal/tenants/42/audit-logs?limit=abc", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/internal/tenants/nope/audit-logs", nil, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
