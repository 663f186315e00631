package agent

import (
	"github.com/haramshield/haramshield-go/internal/events"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// signalLog is the console stand-in for the presentation layer.
type signalLog struct {
	log logger.Logger
}

func (signalLog) Name() string { return "console" }

func (c signalLog) Consume(s events.Signal) error {
	if s.Kind == events.KindPulse {
		c.log.Trace("signal", logger.String("signal", s.String()))
		return nil
	}
	c.log.Info("signal",
		logger.String("signal", s.String()),
		logger.String("trace_id", s.TraceID))
	return nil
}
