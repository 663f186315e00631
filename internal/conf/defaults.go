// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Threshold and interval bounds enforced on every write.
const (
	ThresholdMin = float32(0.30)
	ThresholdMax = float32(0.95)

	CaptureIntervalMin = 500 * time.Millisecond
	CaptureIntervalMax = 10 * time.Second
)

// DefaultTamperKeywords are the on-screen strings that identify the agent's
// own entry on the settings surface.
var DefaultTamperKeywords = []string{"haramshield", "haram shield"}

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "HaramShield")
	v.SetDefault("main.package", "com.haramshield")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/haramshield.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("monitoring.enabled", true)

	v.SetDefault("detection.enabled.explicit", true)
	v.SetDefault("detection.enabled.intoxicant", true)
	v.SetDefault("detection.enabled.gambling", true)
	v.SetDefault("detection.enabled.blasphemy", true)
	v.SetDefault("detection.enabled.obscured", true)
	v.SetDefault("detection.thresholds.explicit", 0.70)
	v.SetDefault("detection.thresholds.intoxicant", 0.65)
	v.SetDefault("detection.thresholds.gambling", 0.60)
	v.SetDefault("detection.thresholds.blasphemy", 0.60)
	v.SetDefault("detection.thresholds.obscured", 0.50)
	v.SetDefault("detection.thresholds.object", 0.80)
	v.SetDefault("detection.criticalconfidence", 0.99)
	v.SetDefault("detection.timeout", 3*time.Second)

	v.SetDefault("capture.interval", 2*time.Second)
	v.SetDefault("capture.highpowerfloor", 800*time.Millisecond)
	v.SetDefault("capture.lowpowerfloor", 2500*time.Millisecond)
	v.SetDefault("capture.minimum", CaptureIntervalMin)
	v.SetDefault("capture.powersaver", false)

	v.SetDefault("lockout.strict", 10*time.Minute)
	v.SetDefault("lockout.warning", time.Minute)
	v.SetDefault("lockout.default", 5*time.Minute)
	v.SetDefault("lockout.bounds.min", time.Minute)
	v.SetDefault("lockout.bounds.max", time.Hour)

	v.SetDefault("tamper.settingspackage", "com.android.settings")
	v.SetDefault("tamper.keywords", DefaultTamperKeywords)
	v.SetDefault("tamper.lockout", 10*time.Minute)
	v.SetDefault("tamper.hardeningthreshold", 3)
	v.SetDefault("tamper.hardeneddelay", 60*time.Second)

	v.SetDefault("snooze.defaultduration", 15*time.Second)

	v.SetDefault("state.snoozed", false)
	v.SetDefault("state.snoozeuntil", 0)
	v.SetDefault("state.tamperattempts", 0)
	v.SetDefault("state.firstinstall", 0)

	v.SetDefault("keywords.custom", []string{})
	v.SetDefault("keywords.blocklist", "")

	v.SetDefault("models.explicit.path", "")
	v.SetDefault("models.explicit.threads", 0)
	v.SetDefault("models.object.path", "")
	v.SetDefault("models.object.labels", "")
	v.SetDefault("models.object.threads", 0)

	v.SetDefault("output.sqlite.path", "haramshield.db")
	v.SetDefault("output.mysql.enabled", false)
	v.SetDefault("output.mysql.host", "localhost")
	v.SetDefault("output.mysql.port", "3306")
	v.SetDefault("output.mysql.database", "haramshield")

	v.SetDefault("retention.violations", 30*24*time.Hour)
	v.SetDefault("retention.sweepschedule", "@every 1m")
	v.SetDefault("retention.pruneschedule", "0 3 * * *")

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", "127.0.0.1:8089")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "haramshield")
	v.SetDefault("mqtt.clientid", "haramshield")

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.title", "HaramShield")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
}

// DefaultSettings returns the built-in defaults without reading any file or
// environment variable.
func DefaultSettings() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	s := &Settings{}
	// defaults are static; decoding cannot fail
	_ = v.Unmarshal(s)
	Normalize(s)
	return s
}
