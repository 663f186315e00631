// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// Normalize clamps bounded values into range and canonicalises sets.
// It is applied on load and on every Store update.
func Normalize(s *Settings) {
	t := &s.Detection.Thresholds
	for _, v := range []*float32{&t.Explicit, &t.Intoxicant, &t.Gambling, &t.Blasphemy, &t.Obscured, &t.Object} {
		*v = ClampThreshold(*v)
	}
	if s.Detection.CriticalConfidence <= 0 || s.Detection.CriticalConfidence > 1 {
		s.Detection.CriticalConfidence = 0.99
	}

	s.Capture.Interval = ClampInterval(s.Capture.Interval)
	if s.Capture.Minimum < CaptureIntervalMin {
		s.Capture.Minimum = CaptureIntervalMin
	}

	b := s.Lockout.Bounds
	if b.Min <= 0 {
		b.Min = time.Minute
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}
	s.Lockout.Bounds = b
	s.Lockout.Strict = clampDuration(s.Lockout.Strict, b.Min, b.Max)
	s.Lockout.Warning = clampDuration(s.Lockout.Warning, b.Min, b.Max)
	s.Lockout.Default = clampDuration(s.Lockout.Default, b.Min, b.Max)

	if s.Tamper.HardeningThreshold < 1 {
		s.Tamper.HardeningThreshold = 1
	}
	if len(s.Tamper.Keywords) == 0 {
		s.Tamper.Keywords = slices.Clone(DefaultTamperKeywords)
	}
	s.Tamper.Keywords = NormalizeWords(s.Tamper.Keywords)

	if s.State.TamperAttempts < 0 {
		s.State.TamperAttempts = 0
	}
	if !s.State.Snoozed {
		s.State.SnoozeUntil = 0
	}

	s.Keywords.Custom = NormalizeWords(s.Keywords.Custom)
}

// ClampThreshold bounds a confidence threshold to [ThresholdMin, ThresholdMax].
func ClampThreshold(v float32) float32 {
	return min(max(v, ThresholdMin), ThresholdMax)
}

// ClampInterval bounds the user capture interval.
func ClampInterval(d time.Duration) time.Duration {
	return clampDuration(d, CaptureIntervalMin, CaptureIntervalMax)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	return min(max(d, lo), hi)
}

// NormalizeWords lower-cases, trims and de-duplicates a word set, dropping
// empty entries. The result is sorted.
func NormalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ValidateSettings validates values that cannot be clamped.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if strings.TrimSpace(settings.Main.Package) == "" {
		ve.Errors = append(ve.Errors, "main.package must be set")
	}

	if err := validateOutputSettings(&settings.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateRetentionSettings(&settings.Retention); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.WebServer.Enabled {
		if _, _, err := net.SplitHostPort(settings.WebServer.Listen); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("webserver.listen %q is not host:port", settings.WebServer.Listen))
		}
	}

	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		ve.Errors = append(ve.Errors, "mqtt.broker is required when MQTT is enabled")
	}

	if settings.Notification.Enabled && len(settings.Notification.URLs) == 0 {
		ve.Errors = append(ve.Errors, "notification.urls is required when notifications are enabled")
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry.dsn is required when sentry is enabled")
	}

	if settings.Models.Object.Path != "" && settings.Models.Object.Labels == "" {
		ve.Errors = append(ve.Errors, "models.object.labels is required when an object model is configured")
	}

	if settings.Detection.Timeout <= 0 {
		ve.Errors = append(ve.Errors, "detection.timeout must be positive")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateOutputSettings(settings *OutputSettings) error {
	if settings.MySQL.Enabled {
		var missing []string
		if settings.MySQL.Host == "" {
			missing = append(missing, "host")
		}
		if settings.MySQL.Database == "" {
			missing = append(missing, "database")
		}
		if settings.MySQL.Username == "" {
			missing = append(missing, "username")
		}
		if len(missing) > 0 {
			return fmt.Errorf("output.mysql is enabled but missing %s", strings.Join(missing, ", "))
		}
		return nil
	}
	if settings.SQLite.Path == "" {
		return fmt.Errorf("output.sqlite.path must be set when MySQL is disabled")
	}
	return nil
}

func validateRetentionSettings(settings *RetentionSettings) error {
	var errs []string
	if settings.Violations < 24*time.Hour {
		errs = append(errs, "retention.violations must be at least 24h")
	}
	for key, schedule := range map[string]string{
		"retention.sweepschedule": settings.SweepSchedule,
		"retention.pruneschedule": settings.PruneSchedule,
	} {
		if schedule == "" {
			errs = append(errs, key+" must be set")
			continue
		}
		if _, err := cron.ParseStandard(schedule); err != nil {
			errs = append(errs, fmt.Sprintf("%s %q is not a valid cron expression: %v", key, schedule, err))
		}
	}
	slices.Sort(errs)
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
