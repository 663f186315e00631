// Package agent assembles the long-running monitor: settings, persistence,
// detectors, the decision engine, the guard, the capture scheduler, the
// focus machine and the outbound surfaces.
package agent

import (
	"context"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haramshield/haramshield-go/internal/classifier"
	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/datastore"
	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/enforcement"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/events"
	"github.com/haramshield/haramshield-go/internal/focus"
	"github.com/haramshield/haramshield-go/internal/guard"
	"github.com/haramshield/haramshield-go/internal/httpserver"
	"github.com/haramshield/haramshield-go/internal/keyword"
	"github.com/haramshield/haramshield-go/internal/logger"
	"github.com/haramshield/haramshield-go/internal/mqtt"
	"github.com/haramshield/haramshield-go/internal/notification"
	"github.com/haramshield/haramshield-go/internal/observability"
	"github.com/haramshield/haramshield-go/internal/pipeline"
	"github.com/haramshield/haramshield-go/internal/retention"
	"github.com/haramshield/haramshield-go/internal/scheduler"
	"github.com/haramshield/haramshield-go/internal/source"
)

const (
	busShutdownTimeout  = 5 * time.Second
	httpShutdownTimeout = 5 * time.Second
)

// Options are the inputs of New that do not come from settings.
type Options struct {
	Frames  source.FrameSource // required
	OCR     source.OCR         // nil disables text detection
	Metrics *observability.Metrics

	// Offline skips the HTTP server, MQTT and notifications, for one-shot
	// commands.
	Offline bool
}

// Agent owns every long-lived component. Build it with New, then call Run.
type Agent struct {
	SessionID string

	store   *conf.Store
	db      *datastore.Store
	metrics *observability.Metrics

	matcher     *keyword.Matcher
	customWords []string // last set applied to matcher
	models      conf.ModelsSettings
	classifiers []*classifier.ModelClassifier
	engine      *enforcement.Engine
	bus         *events.Bus
	snooze      *guard.Snooze
	tamper      *guard.Tamper
	pipeline    *pipeline.Pipeline
	scheduler   *scheduler.Scheduler
	focus       *focus.Machine
	janitor     *retention.Janitor
	http        *httpserver.Server
	mqtt        mqtt.Client

	log logger.Logger
}

// New builds the agent. The datastore is owned by the caller.
func New(store *conf.Store, db *datastore.Store, opts Options) (*Agent, error) {
	if opts.Frames == nil {
		return nil, errors.Newf("agent requires a frame source").
			Component("agent").
			Category(errors.CategoryConfiguration).
			Build()
	}
	m := opts.Metrics
	if m == nil {
		var err error
		if m, err = observability.NewMetrics(); err != nil {
			return nil, err
		}
	}

	a := &Agent{
		SessionID: uuid.NewString(),
		store:     store,
		db:        db,
		metrics:   m,
		log:       GetLogger(),
	}
	settings := store.Current()

	a.matcher = keyword.New()
	a.customWords = slices.Clone(settings.Keywords.Custom)
	a.matcher.SetCustomWords(a.customWords)
	if settings.Keywords.Blocklist != "" {
		if _, err := a.matcher.LoadBlocklist(settings.Keywords.Blocklist); err != nil {
			a.log.Warn("starting without the external blocklist", logger.Error(err))
		}
	}

	a.classifiers = buildClassifiers(store, m)
	a.models = settings.Models

	a.engine = enforcement.New(db.Locks(), db.Violations(), db.Whitelist(),
		func() detection.Policy {
			s := store.Current()
			return detection.NewPolicy(s.Lockout, s.Tamper.Lockout)
		},
		enforcement.WithMetrics(m.Enforcement))

	a.bus = events.NewBus(events.DefaultConfig(), events.WithBusMetrics(m.Pipeline))
	if err := a.registerConsumers(settings, opts.Offline); err != nil {
		return nil, err
	}

	a.snooze = guard.NewSnooze(store, guard.WithSnoozeMetrics(m.Enforcement))
	a.tamper = guard.NewTamper(store, a.engine, a.bus, guard.WithTamperMetrics(m.Enforcement))

	detectors := make([]classifier.Classifier, 0, len(a.classifiers))
	for _, c := range a.classifiers {
		detectors = append(detectors, c)
	}
	a.pipeline = pipeline.New(pipeline.Deps{
		Settings:    store.Current,
		Frames:      opts.Frames,
		OCR:         opts.OCR,
		Matcher:     a.matcher,
		Classifiers: detectors,
		Engine:      a.engine,
		Signals:     a.bus,
	}, pipeline.WithMetrics(m.Pipeline))

	power := scheduler.NewSystemPowerMonitor(func() bool { return store.Current().Capture.PowerSaver })
	a.scheduler = scheduler.New(
		func(ctx context.Context, pkg string) { a.pipeline.Run(ctx, pkg) },
		a.snooze, power,
		func() conf.CaptureSettings { return store.Current().Capture },
		a.bus)

	a.focus = focus.New(focus.Deps{
		Settings:  store.Current,
		Capture:   a.scheduler,
		Tamper:    a.tamper,
		Locks:     db.Locks(),
		Whitelist: db.Whitelist(),
		Signals:   a.bus,
	})

	a.janitor = retention.New(db.Locks(), db.Violations(),
		func() conf.RetentionSettings { return store.Current().Retention },
		retention.WithMetrics(m.Enforcement))

	if settings.WebServer.Enabled && !opts.Offline {
		a.http = httpserver.New(settings.WebServer.Listen, httpserver.Deps{
			Settings:   store.Current,
			Locks:      db.Locks(),
			Violations: db.Violations(),
			Whitelist:  db.Whitelist(),
			Snooze:     a.snooze,
			Tamper:     a.tamper,
			Tracking:   func() string { return a.focus.State().Tracking },
			Degraded:   a.pipeline.Degraded,
			Ping:       db.Ping,
			Metrics:    m.Handler(),
		})
	}

	return a, nil
}

// buildClassifiers creates one classifier per configured model. A model
// that fails to load leaves its classifier failing open.
func buildClassifiers(store *conf.Store, m *observability.Metrics) []*classifier.ModelClassifier {
	settings := store.Current()
	log := GetLogger()
	timeout := classifier.WithTimeout(settings.Detection.Timeout)
	var out []*classifier.ModelClassifier

	load := func(cfg conf.ModelSettings, family string) classifier.Model {
		return loadModel(log, cfg, family)
	}

	if cfg := settings.Models.Explicit; cfg.Path != "" {
		layout := classifier.ExplicitLayout{}
		out = append(out, classifier.New("explicit", layout, load(cfg, layout.Family()),
			func() float32 { return store.Current().Detection.Thresholds.Explicit },
			timeout, classifier.WithMetrics(m.Classifier)))
	}

	if cfg := settings.Models.Object; cfg.Path != "" {
		labels, err := classifier.LoadLabels(cfg.Labels)
		if err != nil {
			log.Error("object labels unavailable, object detector disabled", logger.Error(err))
			return out
		}
		layout := classifier.NewLabelLayout(labels, classifier.DefaultObjectTargets)
		out = append(out, classifier.New("object", layout, load(cfg, layout.Family()),
			func() float32 { return store.Current().Detection.Thresholds.Object },
			timeout, classifier.WithMetrics(m.Classifier)))
	}
	return out
}

func loadModel(log logger.Logger, cfg conf.ModelSettings, family string) classifier.Model {
	model, err := classifier.LoadTFLiteModel(cfg.Path, family, cfg.Threads)
	if err != nil {
		log.Error("model load failed, detector fails open",
			logger.String("path", cfg.Path), logger.Error(err))
		return nil
	}
	return model
}

// reloadModels swaps the interpreter of every classifier whose model file
// or thread count changed. Classifiers are only created at startup, so a
// model configured later needs a restart.
func (a *Agent) reloadModels(next conf.ModelsSettings) {
	for _, c := range a.classifiers {
		var prev, cfg conf.ModelSettings
		switch c.Name() {
		case "explicit":
			prev, cfg = a.models.Explicit, next.Explicit
		case "object":
			prev, cfg = a.models.Object, next.Object
		default:
			continue
		}
		if prev.Path == cfg.Path && prev.Threads == cfg.Threads {
			continue
		}
		if cfg.Path == "" {
			c.Swap(nil)
			a.log.Info("model removed, detector disabled", logger.String("detector", c.Name()))
			continue
		}
		c.Swap(loadModel(a.log, cfg, c.Family()))
		a.log.Info("model reloaded",
			logger.String("detector", c.Name()),
			logger.String("path", cfg.Path))
	}
	a.models = next
}

func (a *Agent) closeClassifiers() {
	for _, c := range a.classifiers {
		c.Close()
	}
}

func (a *Agent) registerConsumers(settings *conf.Settings, offline bool) error {
	if err := a.bus.Register(signalLog{log: a.log}); err != nil {
		return err
	}
	if offline {
		return nil
	}

	if settings.MQTT.Enabled {
		a.mqtt = mqtt.NewClient(&settings.MQTT, a.metrics.Pipeline)
		if err := a.bus.Register(mqtt.NewBridge(a.mqtt, settings.MQTT.Topic, a.metrics.Pipeline)); err != nil {
			return err
		}
	}

	if settings.Notification.Enabled {
		n, err := notification.NewFromSettings(&settings.Notification,
			notification.WithMetrics(a.metrics.Pipeline))
		if err != nil {
			return err
		}
		if err := a.bus.Register(n); err != nil {
			return err
		}
	}
	return nil
}

// Analyze runs one manual check of img and text against pkg, delivering
// the resulting signals before it returns. It must not be called while Run
// is active.
func (a *Agent) Analyze(ctx context.Context, pkg string, img image.Image, text string) (detection.Summary, enforcement.Decision) {
	a.bus.Start()
	defer func() {
		if err := a.bus.Shutdown(busShutdownTimeout); err != nil {
			a.log.Warn("signal bus did not drain", logger.Error(err))
		}
		a.closeClassifiers()
	}()
	return a.pipeline.Analyze(ctx, pkg, img, text)
}

// Submit forwards a focus event to the state machine.
func (a *Agent) Submit(e focus.Event) bool {
	return a.focus.Submit(e)
}

// Pipeline returns the detection pipeline.
func (a *Agent) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Snooze returns the snooze window.
func (a *Agent) Snooze() *guard.Snooze { return a.snooze }

// Tamper returns the anti-tamper guard.
func (a *Agent) Tamper() *guard.Tamper { return a.tamper }

// Focus returns the focus state machine.
func (a *Agent) Focus() *focus.Machine { return a.focus }

// Run starts every component and blocks until ctx is done, then shuts
// them down in reverse dependency order.
func (a *Agent) Run(ctx context.Context) error {
	log := a.log.With(logger.String("session", a.SessionID))
	log.Info("agent starting",
		logger.Int("keywords", a.matcher.Size()),
		logger.Int("classifiers", len(a.classifiers)),
		logger.Bool("monitoring", a.store.Current().Monitoring.Enabled))

	a.bus.Start()
	a.snooze.Restore()

	if err := a.janitor.Start(ctx); err != nil {
		_ = a.bus.Shutdown(busShutdownTimeout)
		return err
	}
	if a.http != nil {
		a.http.Start()
	}

	var wg sync.WaitGroup
	if a.mqtt != nil {
		wg.Go(func() { a.connectMQTT(ctx) })
	}
	settingsUpdates, unsubscribeSettings := a.store.Subscribe()
	defer unsubscribeSettings()
	whitelistChanges, unsubscribeWhitelist := a.db.Whitelist().Changes()
	defer unsubscribeWhitelist()
	wg.Go(func() { a.followSettings(ctx, settingsUpdates) })
	wg.Go(func() { a.followWhitelist(ctx, whitelistChanges) })
	wg.Go(func() { _ = a.focus.Run(ctx) })
	if a.store.Path() != "" {
		wg.Go(func() {
			if err := a.store.Watch(ctx, conf.DefaultWatchDebounce); err != nil {
				log.Warn("config hot reload unavailable", logger.Error(err))
			}
		})
	}
	if path := a.store.Current().Keywords.Blocklist; path != "" {
		wg.Go(func() {
			if err := a.matcher.Watch(ctx, path, keyword.DefaultReloadDebounce); err != nil {
				log.Warn("blocklist hot reload unavailable", logger.Error(err))
			}
		})
	}

	<-ctx.Done()
	log.Info("agent stopping")

	wg.Wait()
	a.scheduler.Close()
	a.janitor.Stop()
	a.snooze.Stop()
	a.shutdownHTTP()
	if err := a.bus.Shutdown(busShutdownTimeout); err != nil {
		log.Warn("signal bus did not drain", logger.Error(err))
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	a.closeClassifiers()

	stats := a.bus.Stats()
	log.Info("agent stopped",
		logger.Uint64("signals_published", stats.Published),
		logger.Uint64("signals_dropped", stats.Dropped))
	return nil
}

func (a *Agent) shutdownHTTP() {
	if a.http == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := a.http.Shutdown(ctx); err != nil {
		a.log.Warn("http server shutdown failed", logger.Error(err))
	}
}

func (a *Agent) connectMQTT(ctx context.Context) {
	if err := a.mqtt.Connect(ctx); err != nil {
		// paho keeps retrying in the background
		a.log.Warn("mqtt connect failed", logger.Error(err))
	}
}

// followSettings applies live settings changes that components do not read
// on every use. The current snapshot is applied first so a change made
// before the subscription is not missed.
func (a *Agent) followSettings(ctx context.Context, updates <-chan *conf.Settings) {
	a.applySettings(a.store.Current())
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			a.applySettings(s)
		}
	}
}

func (a *Agent) applySettings(s *conf.Settings) {
	if !slices.Equal(a.customWords, s.Keywords.Custom) {
		a.customWords = slices.Clone(s.Keywords.Custom)
		a.matcher.SetCustomWords(a.customWords)
	}
	if a.models != s.Models {
		a.reloadModels(s.Models)
	}
	if !s.Monitoring.Enabled && a.scheduler.Running() {
		a.scheduler.Stop()
		a.log.Info("monitoring disabled, capture stopped")
	}
}

// followWhitelist stops capture when the tracked package gets whitelisted.
func (a *Agent) followWhitelist(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			pkg := a.scheduler.Target()
			if pkg == "" {
				continue
			}
			lookup, cancel := context.WithTimeout(ctx, time.Second)
			whitelisted, err := a.db.Whitelist().Contains(lookup, pkg)
			cancel()
			if err == nil && whitelisted {
				a.scheduler.Stop()
				a.log.Info("tracked package whitelisted, capture stopped", logger.String("package", pkg))
			}
		}
	}
}
