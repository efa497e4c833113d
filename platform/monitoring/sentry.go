// Package monitoring reports unexpected errors to Sentry.
// When no DSN is configured every call is a no-op.
package monitoring

import (
	"context"
	"time"

	"crewcommand_backend/platform/config"

	"github.com/getsentry/sentry-go"
)

// Init configures the global Sentry client. It returns a flush function that
// should be deferred by the caller.
func Init(cfg config.MonitoringConfig, release string) (func(), error) {
	if cfg.GetSentryDSN() == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.GetSentryDSN(),
		Environment:      cfg.GetEnv(),
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return func() {}, err
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureError sends err with the given tags. Tags with empty values are skipped.
func CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			if v != "" {
				scope.SetTag(k, v)
			}
		}
		hub.CaptureException(err)
	})
}

// Breadcrumb records a non-error event that is attached to later reports.
func Breadcrumb(category, message string, data map[string]interface{}) {
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "info",
		Category:  category,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	})
}
