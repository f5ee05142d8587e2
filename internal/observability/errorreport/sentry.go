package errorreport

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	obscontext "github.com/smallbiznis/accessflow/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// Reporter forwards errors to Sentry. A nil or disabled Reporter is a no-op.
type Reporter struct {
	enabled bool
}

func New(lc fx.Lifecycle, cfg Config, log *zap.Logger) (*Reporter, error) {
	if cfg.DSN == "" {
		return &Reporter{}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  cfg.SampleRate,
	}); err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		},
	})
	log.Info("sentry error reporting enabled", zap.String("environment", cfg.Environment))

	return &Reporter{enabled: true}, nil
}

// Capture reports err with the given tags plus request and tenant correlation.
func (r *Reporter) Capture(ctx context.Context, err error, tags map[string]string) {
	if r == nil || !r.enabled || err == nil {
		return
	}

	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			scope.SetTag("request_id", requestID)
		}
		if tenantID := obscontext.TenantIDFromContext(ctx); tenantID != "" {
			scope.SetTag("tenant_id", tenantID)
		}
		for k, v := range tags {
			if v != "" {
				scope.SetTag(k, v)
			}
		}
		hub.CaptureException(err)
	})
}
