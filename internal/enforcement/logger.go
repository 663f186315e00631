package enforcement

import (
	"sync"

	"github.com/haramshield/haramshield-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the enforcement package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("enforcement")
	})
	return serviceLogger
}
