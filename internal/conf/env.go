// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the agent reads.
const EnvPrefix = "HARAMSHIELD"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "HARAMSHIELD_DEBUG", validateEnvBool},
		{"monitoring.enabled", "HARAMSHIELD_MONITORING_ENABLED", validateEnvBool},

		{"detection.thresholds.explicit", "HARAMSHIELD_THRESHOLD_EXPLICIT", validateEnvThreshold},
		{"detection.thresholds.intoxicant", "HARAMSHIELD_THRESHOLD_INTOXICANT", validateEnvThreshold},
		{"detection.thresholds.gambling", "HARAMSHIELD_THRESHOLD_GAMBLING", validateEnvThreshold},
		{"detection.timeout", "HARAMSHIELD_DETECTION_TIMEOUT", validateEnvDuration},

		{"capture.interval", "HARAMSHIELD_CAPTURE_INTERVAL", validateEnvDuration},
		{"capture.powersaver", "HARAMSHIELD_CAPTURE_POWERSAVER", validateEnvBool},

		{"models.explicit.path", "HARAMSHIELD_MODEL_EXPLICIT", validateEnvPath},
		{"models.object.path", "HARAMSHIELD_MODEL_OBJECT", validateEnvPath},
		{"keywords.blocklist", "HARAMSHIELD_BLOCKLIST", validateEnvPath},

		{"output.sqlite.path", "HARAMSHIELD_DB_PATH", nil},
		{"output.mysql.password", "HARAMSHIELD_MYSQL_PASSWORD", nil},
		{"mqtt.password", "HARAMSHIELD_MQTT_PASSWORD", nil},
		{"sentry.dsn", "HARAMSHIELD_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds each variable and validates any value that is set.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvThreshold(value string) error {
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration like 2s or 500ms")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvPath(value string) error {
	for part := range strings.SplitSeq(value, string(os.PathSeparator)) {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", value)
		}
	}
	if _, err := os.Stat(value); os.IsNotExist(err) {
		return fmt.Errorf("warning: file does not exist: %s", value)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars(v)
}
