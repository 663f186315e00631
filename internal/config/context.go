// Package config holds the application context shared by the CLI commands:
// the loaded settings store, the logger and telemetry bootstrap, metrics and
// the datastore.
package config

import (
	"github.com/spf13/viper"

	"github.com/haramshield/haramshield-go/internal/buildinfo"
	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/datastore"
	"github.com/haramshield/haramshield-go/internal/logger"
	"github.com/haramshield/haramshield-go/internal/observability"
	"github.com/haramshield/haramshield-go/internal/telemetry"
)

// Context holds the overall application state for one CLI invocation.
type Context struct {
	Build      *buildinfo.Context
	ConfigFile string
	Debug      bool

	Store   *conf.Store
	Metrics *observability.Metrics

	central *logger.CentralLogger
	flush   func()
	db      *datastore.Store
}

// NewContext creates an unloaded context.
func NewContext(build *buildinfo.Context) *Context {
	return &Context{Build: build, flush: func() {}}
}

// Load reads settings through v, then sets up logging, telemetry and metrics.
func (c *Context) Load(v *viper.Viper) error {
	settings, path, err := conf.LoadWith(v, c.ConfigFile)
	if err != nil {
		return err
	}
	if c.Debug {
		settings.Debug = true
	}
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return err
	}
	logger.SetGlobal(central)
	c.central = central

	if c.flush, err = telemetry.InitSentry(settings, c.Build.GetVersion()); err != nil {
		GetLogger().Warn("telemetry disabled", logger.Error(err))
		c.flush = func() {}
	}

	if c.Metrics, err = observability.NewMetrics(); err != nil {
		return err
	}

	c.Store = conf.NewStore(settings, path)
	GetLogger().Debug("configuration loaded",
		logger.String("path", path),
		logger.String("version", c.Build.GetVersion()))
	return nil
}

// Settings returns the current settings snapshot.
func (c *Context) Settings() *conf.Settings {
	return c.Store.Current()
}

// Datastore opens the configured datastore on first use.
func (c *Context) Datastore() (*datastore.Store, error) {
	if c.db != nil {
		return c.db, nil
	}
	db, err := datastore.Open(&c.Settings().Output)
	if err != nil {
		return nil, err
	}
	c.db = db
	return db, nil
}

// Close releases everything Load and Datastore opened.
func (c *Context) Close() {
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			GetLogger().Warn("failed to close datastore", logger.Error(err))
		}
		c.db = nil
	}
	c.flush()
	if c.central != nil {
		_ = c.central.Flush()
		_ = c.central.Close()
	}
}
