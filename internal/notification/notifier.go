// Package notification sends accountability messages through shoutrrr
// services when an app is locked or someone tries to disable protection.
package notification

import (
	"fmt"
	"io"
	"log"
	"regexp"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/events"
	"github.com/haramshield/haramshield-go/internal/logger"
	"github.com/haramshield/haramshield-go/internal/observability/metrics"
)

const (
	// RepeatWindow suppresses a second lock message for the same package,
	// e.g. when a locked app is reopened.
	RepeatWindow = 5 * time.Minute

	sendTimeout = 10 * time.Second
)

// Sender delivers one message to every configured service.
// *router.ServiceRouter implements it.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier is an events.Consumer for lock and tamper signals.
type Notifier struct {
	sender  Sender
	title   string
	limiter *rate.Limiter
	recent  *cache.Cache
	metrics *metrics.PipelineMetrics
	log     logger.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithMetrics records delivery results.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithLimit overrides the default of one message per 30s with a burst of 3.
func WithLimit(every time.Duration, burst int) Option {
	return func(n *Notifier) { n.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

// New wraps a sender.
func New(sender Sender, title string, opts ...Option) *Notifier {
	if title == "" {
		title = "HaramShield"
	}
	n := &Notifier{
		sender:  sender,
		title:   title,
		limiter: rate.NewLimiter(rate.Every(30*time.Second), 3),
		recent:  cache.New(RepeatWindow, 0),
		log:     GetLogger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewFromSettings builds a shoutrrr-backed notifier. The URLs are parsed
// here so a typo fails at startup rather than at the first lock.
func NewFromSettings(settings *conf.NotificationSettings, opts ...Option) (*Notifier, error) {
	if len(settings.URLs) == 0 {
		return nil, errors.Newf("notification is enabled but no service URLs are configured").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		return nil, errors.New(sanitize(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("services", len(settings.URLs)).
			Build()
	}
	router.Timeout = sendTimeout
	router.SetLogger(log.New(io.Discard, "", 0))
	return New(router, settings.Title, opts...), nil
}

func (n *Notifier) Name() string { return "notification" }

// Consume sends a message for show-block and tamper signals.
func (n *Notifier) Consume(s events.Signal) error {
	title, body, ok := n.format(s)
	if !ok {
		return nil
	}
	if s.Kind == events.KindShowBlock {
		// Add fails while the key is still fresh
		if err := n.recent.Add(s.Package, struct{}{}, RepeatWindow); err != nil {
			return nil
		}
	}
	if !n.limiter.Allow() {
		n.log.Debug("notification rate limited", logger.String("kind", string(s.Kind)))
		return nil
	}

	params := stypes.Params{}
	params.SetTitle(title)
	err := firstError(n.sender.Send(body, &params))
	n.metrics.RecordIntegration("notification", err)
	if err != nil {
		return errors.New(sanitize(err)).
			Component("notification").
			Category(errors.CategoryIntegration).
			Context("kind", string(s.Kind)).
			Build()
	}
	n.log.Debug("notification sent", logger.String("kind", string(s.Kind)))
	return nil
}

func (n *Notifier) format(s events.Signal) (title, body string, ok bool) {
	at := s.At.Local().Format("15:04")
	switch s.Kind {
	case events.KindTamper:
		return n.title + ": tamper attempt",
			fmt.Sprintf("Attempt #%d to disable protection was blocked at %s.", s.Attempts, at), true
	case events.KindShowBlock:
		return n.title + ": app locked",
			fmt.Sprintf("%s was locked at %s for %s (%s).", s.Package, at, s.Remaining.Round(time.Second), s.Category), true
	default:
		return "", "", false
	}
}

func firstError(errs []error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

var serviceURL = regexp.MustCompile(`[a-z][a-z0-9+.-]*://\S+`)

// sanitize strips service URLs, which carry tokens, from error text.
func sanitize(err error) error {
	if err == nil {
		return nil
	}
	return errors.NewStd(serviceURL.ReplaceAllString(err.Error(), "[service-url]"))
}

var _ events.Consumer = (*Notifier)(nil)
