// Package conf provides configuration management for HaramShield.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// MainSettings identifies the agent itself.
type MainSettings struct {
	Name    string `yaml:"name"`
	Package string `yaml:"package"` // agent's own package; never tracked
}

// MonitoringSettings is the master switch for the whole pipeline.
type MonitoringSettings struct {
	Enabled bool `yaml:"enabled"`
}

// CategorySwitches enables or disables individual content categories.
type CategorySwitches struct {
	Explicit   bool `yaml:"explicit"`
	Intoxicant bool `yaml:"intoxicant"`
	Gambling   bool `yaml:"gambling"`
	Blasphemy  bool `yaml:"blasphemy"`
	Obscured   bool `yaml:"obscured"`
}

// Thresholds holds per-category confidence thresholds. A detection is a
// violation only when its confidence is strictly greater than the threshold.
type Thresholds struct {
	Explicit   float32 `yaml:"explicit"`
	Intoxicant float32 `yaml:"intoxicant"`
	Gambling   float32 `yaml:"gambling"`
	Blasphemy  float32 `yaml:"blasphemy"`
	Obscured   float32 `yaml:"obscured"`
	Object     float32 `yaml:"object"` // object-label classifier
}

// DetectionSettings configures the classification stage.
type DetectionSettings struct {
	Enabled            CategorySwitches `yaml:"enabled"`
	Thresholds         Thresholds       `yaml:"thresholds"`
	CriticalConfidence float32          `yaml:"criticalconfidence"` // at or above this the user is sent home
	Timeout            time.Duration    `yaml:"timeout"`            // per-detector bound
}

// CaptureSettings configures the sampling cadence.
type CaptureSettings struct {
	Interval       time.Duration `yaml:"interval"`
	HighPowerFloor time.Duration `yaml:"highpowerfloor"`
	LowPowerFloor  time.Duration `yaml:"lowpowerfloor"`
	Minimum        time.Duration `yaml:"minimum"`
	PowerSaver     bool          `yaml:"powersaver"` // force the low-power floor
}

// LockoutBounds limits the configurable lockout presets.
type LockoutBounds struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// LockoutSettings holds the lockout duration presets.
type LockoutSettings struct {
	Strict  time.Duration `yaml:"strict"`  // explicit content, gambling, obscured screen
	Warning time.Duration `yaml:"warning"` // intoxicant references
	Default time.Duration `yaml:"default"` // everything else
	Bounds  LockoutBounds `yaml:"bounds"`
}

// TamperSettings configures the anti-tamper guard.
type TamperSettings struct {
	SettingsPackage    string        `yaml:"settingspackage"`
	Keywords           []string      `yaml:"keywords"`
	Lockout            time.Duration `yaml:"lockout"`
	HardeningThreshold int           `yaml:"hardeningthreshold"`
	HardenedDelay      time.Duration `yaml:"hardeneddelay"`
}

// SnoozeSettings configures the snooze window.
type SnoozeSettings struct {
	DefaultDuration time.Duration `yaml:"defaultduration"`
}

// StateSettings is runtime state persisted alongside configuration.
// Timestamps are Unix milliseconds.
type StateSettings struct {
	Snoozed        bool  `yaml:"snoozed"`
	SnoozeUntil    int64 `yaml:"snoozeuntil"`
	TamperAttempts int   `yaml:"tamperattempts"`
	FirstInstall   int64 `yaml:"firstinstall"`
}

// KeywordSettings configures the keyword matcher sources.
type KeywordSettings struct {
	Custom    []string `yaml:"custom"`
	Blocklist string   `yaml:"blocklist"` // optional external list, hot reloaded
}

// ModelSettings points at a TFLite model.
type ModelSettings struct {
	Path    string `yaml:"path"`
	Labels  string `yaml:"labels"`
	Threads int    `yaml:"threads"`
}

// ModelsSettings lists the visual classifier models.
type ModelsSettings struct {
	Explicit ModelSettings `yaml:"explicit"`
	Object   ModelSettings `yaml:"object"`
}

// SQLiteSettings configures the SQLite store.
type SQLiteSettings struct {
	Path string `yaml:"path"`
}

// MySQLSettings configures the optional MySQL store.
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

// OutputSettings selects the persistence backend.
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql"`
}

// RetentionSettings configures the janitor jobs.
type RetentionSettings struct {
	Violations    time.Duration `yaml:"violations"`
	SweepSchedule string        `yaml:"sweepschedule"`
	PruneSchedule string        `yaml:"pruneschedule"`
}

// WebServerSettings configures the local status server.
type WebServerSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// MQTTSettings configures the MQTT signal bridge.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientid"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NotificationSettings configures accountability notifications.
type NotificationSettings struct {
	Enabled bool     `yaml:"enabled"`
	URLs    []string `yaml:"urls"` // shoutrrr service URLs
	Title   string   `yaml:"title"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Settings contains all configuration options.
type Settings struct {
	Debug        bool                 `yaml:"debug"`
	Main         MainSettings         `yaml:"main"`
	Logging      logger.LoggingConfig `yaml:"logging"`
	Monitoring   MonitoringSettings   `yaml:"monitoring"`
	Detection    DetectionSettings    `yaml:"detection"`
	Capture      CaptureSettings      `yaml:"capture"`
	Lockout      LockoutSettings      `yaml:"lockout"`
	Tamper       TamperSettings       `yaml:"tamper"`
	Snooze       SnoozeSettings       `yaml:"snooze"`
	State        StateSettings        `yaml:"state"`
	Keywords     KeywordSettings      `yaml:"keywords"`
	Models       ModelsSettings       `yaml:"models"`
	Output       OutputSettings       `yaml:"output"`
	Retention    RetentionSettings    `yaml:"retention"`
	WebServer    WebServerSettings    `yaml:"webserver"`
	MQTT         MQTTSettings         `yaml:"mqtt"`
	Notification NotificationSettings `yaml:"notification"`
	Sentry       SentrySettings       `yaml:"sentry"`
}

// Clone returns a deep copy of the settings.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	c := *s
	c.Tamper.Keywords = slices.Clone(s.Tamper.Keywords)
	c.Keywords.Custom = slices.Clone(s.Keywords.Custom)
	c.Notification.URLs = slices.Clone(s.Notification.URLs)
	if s.Logging.Console != nil {
		console := *s.Logging.Console
		c.Logging.Console = &console
	}
	if s.Logging.FileOutput != nil {
		file := *s.Logging.FileOutput
		c.Logging.FileOutput = &file
	}
	if s.Logging.ModuleLevels != nil {
		c.Logging.ModuleLevels = make(map[string]string, len(s.Logging.ModuleLevels))
		for k, v := range s.Logging.ModuleLevels {
			c.Logging.ModuleLevels[k] = v
		}
	}
	return &c
}

// Load reads the configuration file and environment variables using the
// global viper instance. configFile overrides the search paths when set.
func Load(configFile string) (*Settings, string, error) {
	return LoadWith(viper.GetViper(), configFile)
}

// LoadWith is Load against a caller supplied viper instance.
func LoadWith(v *viper.Viper, configFile string) (*Settings, string, error) {
	path, err := initViper(v, configFile)
	if err != nil {
		return nil, "", fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, "", errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	Normalize(settings)

	if err := ValidateSettings(settings); err != nil {
		return nil, "", fmt.Errorf("error validating settings: %w", err)
	}

	if settings.State.FirstInstall == 0 {
		settings.State.FirstInstall = time.Now().UnixMilli()
		if err := SaveYAMLConfig(path, settings); err != nil {
			GetLogger().Warn("failed to stamp first install time", logger.Error(err))
		}
	}

	return settings, path, nil
}

// initViper applies defaults and env bindings, then reads the config file.
// A missing config file is created from the defaults.
func initViper(v *viper.Viper, configFile string) (string, error) {
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		// invalid env values are reported but do not prevent startup
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return "", err
		}
		for _, path := range configPaths {
			v.AddConfigPath(path)
		}
	}

	err := v.ReadInConfig()
	if err == nil {
		return v.ConfigFileUsed(), nil
	}

	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) && !(configFile != "" && os.IsNotExist(err)) {
		return "", fmt.Errorf("fatal error reading config file: %w", err)
	}

	return createDefaultConfig(v, configFile)
}

// createDefaultConfig writes the defaults to configFile, or to the first
// default config path, and reads it back.
func createDefaultConfig(v *viper.Viper, configFile string) (string, error) {
	configPath := configFile
	if configPath == "" {
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return "", err
		}
		configPath = filepath.Join(configPaths[0], "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("error creating directories for config file: %w", err)
	}

	defaults := &Settings{}
	if err := v.Unmarshal(defaults); err != nil {
		return "", fmt.Errorf("error building default config: %w", err)
	}
	Normalize(defaults)

	if err := SaveYAMLConfig(configPath, defaults); err != nil {
		return "", err
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("error reading created config file: %w", err)
	}
	return configPath, nil
}

// SaveYAMLConfig writes settings to configPath atomically.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Chmod(tempFileName, 0o600); err != nil {
		return fmt.Errorf("error setting config file permissions: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.New(err).
			Component("configuration").
			Category(errors.CategoryFileIO).
			FileContext(configPath, int64(len(yamlData))).
			Context("operation", "rename-config").
			Build()
	}

	return nil
}
