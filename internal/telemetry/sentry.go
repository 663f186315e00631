// Package telemetry wires opt-in error reporting to Sentry. Nothing is sent
// unless sentry.enabled is set and a DSN is configured.
package telemetry

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// flushTimeout bounds the final flush on shutdown.
const flushTimeout = 2 * time.Second

// allowedExtras survive the privacy filter.
var allowedExtras = map[string]bool{"error_type": true, "component": true}

// InitSentry initializes the Sentry SDK and routes enhanced errors to it.
// It returns a flush func that is safe to call when Sentry is disabled.
func InitSentry(settings *conf.Settings, version string) (func(), error) {
	log := GetLogger()
	noop := func() {}

	if !settings.Sentry.Enabled {
		errors.SetTelemetryReporter(errors.NewSentryReporter(false))
		log.Debug("sentry telemetry disabled")
		return noop, nil
	}
	if settings.Sentry.DSN == "" {
		return noop, errors.Newf("sentry enabled without a dsn").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          fmt.Sprintf("haramshield@%s", version),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return noop, fmt.Errorf("sentry initialization failed: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
	})
	errors.SetPrivacyScrubber(homeScrubber(os.Getenv("HOME")))
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Info("sentry telemetry enabled", logger.String("release", version))
	return func() { sentry.Flush(flushTimeout) }, nil
}

// homeScrubber hides the home directory, which usually carries the user
// name, before the default scrubbing runs.
func homeScrubber(home string) errors.PrivacyScrubber {
	return func(msg string) string {
		if home != "" && home != "/" {
			msg = strings.ReplaceAll(msg, home, "~")
		}
		return errors.BasicScrub(msg)
	}
}

// applyPrivacyFilters strips everything that could identify the device or
// the user. Package names in messages are scrubbed earlier by the errors
// package.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if !allowedExtras[k] {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}
