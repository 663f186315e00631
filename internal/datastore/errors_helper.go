package datastore

import (
	"github.com/haramshield/haramshield-go/internal/errors"
)

// ErrDuplicateLock is returned by LockRepository.Insert when the package
// already holds an active lock.
var ErrDuplicateLock = errors.NewStd("active lock already exists")

// dbError creates a properly categorized database error with context
func dbError(err error, operation, priority string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if priority != "" {
		builder = builder.Priority(priority)
	}

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// conflictError wraps ErrDuplicateLock so callers can match it with errors.Is.
func conflictError(pkg string, lockUntil int64) error {
	return errors.New(ErrDuplicateLock).
		Component("datastore").
		Category(errors.CategoryConflict).
		Priority(errors.PriorityHigh).
		Context("package", pkg).
		Context("lock_until", lockUntil).
		Build()
}
