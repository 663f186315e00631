package datastore

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// LockRepository stores at most one LockedApp per package. Writes are
// insert-or-replace keyed by package name. Expiry is always evaluated at read
// time, so a lookup racing the sweeper still reports an expired lock as
// inactive.
type LockRepository struct {
	db     *gorm.DB
	broker *broker
}

// GetActiveLock returns the lock for pkg if it is still in force at now, or nil.
func (r *LockRepository) GetActiveLock(ctx context.Context, pkg string, now time.Time) (*LockedApp, error) {
	var lock LockedApp
	err := r.db.WithContext(ctx).
		Where("package_name = ? AND lock_until > ?", pkg, now.UnixMilli()).
		Take(&lock).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "get_active_lock", "", "package", pkg)
	}
	return &lock, nil
}

// IsLocked reports whether pkg has an active lock at now.
func (r *LockRepository) IsLocked(ctx context.Context, pkg string, now time.Time) (bool, error) {
	lock, err := r.GetActiveLock(ctx, pkg, now)
	return lock != nil, err
}

// GetRemainingTime returns how long pkg stays locked, or 0. An expired record
// found on the way is deleted; the delete is conditional on expiry so it can
// never remove a lock that was renewed concurrently.
func (r *LockRepository) GetRemainingTime(ctx context.Context, pkg string, now time.Time) (time.Duration, error) {
	var lock LockedApp
	err := r.db.WithContext(ctx).Where("package_name = ?", pkg).Take(&lock).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, dbError(err, "get_remaining_time", "", "package", pkg)
	}

	if lock.Active(now) {
		return lock.Remaining(now), nil
	}

	res := r.db.WithContext(ctx).
		Where("package_name = ? AND lock_until <= ?", pkg, now.UnixMilli()).
		Delete(&LockedApp{})
	if res.Error != nil {
		GetLogger().Debug("opportunistic lock cleanup failed",
			logger.String("package", pkg),
			logger.Error(res.Error))
	} else if res.RowsAffected > 0 {
		r.broker.publish(TopicLocks)
	}
	return 0, nil
}

// Upsert inserts the lock or replaces the existing record for the package.
func (r *LockRepository) Upsert(ctx context.Context, lock *LockedApp) error {
	if err := upsertLock(r.db.WithContext(ctx), lock); err != nil {
		return dbError(err, "upsert_lock", errors.PriorityHigh, "package", lock.PackageName)
	}
	r.broker.publish(TopicLocks)
	return nil
}

// Insert writes the lock only if the package has no active lock at now; an
// expired record is replaced. It returns an error wrapping ErrDuplicateLock
// and leaves the store untouched when an active lock exists.
func (r *LockRepository) Insert(ctx context.Context, lock *LockedApp, now time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("package_name = ? AND lock_until > ?", lock.PackageName, now.UnixMilli())
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var existing LockedApp
		err := q.Take(&existing).Error
		switch {
		case err == nil:
			return conflictError(existing.PackageName, existing.LockUntil)
		case !stderrors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return upsertLock(tx, lock)
	})

	switch {
	case err == nil:
		r.broker.publish(TopicLocks)
		return nil
	case errors.Is(err, ErrDuplicateLock):
		return err
	default:
		return dbError(err, "insert_lock", errors.PriorityHigh, "package", lock.PackageName)
	}
}

func upsertLock(db *gorm.DB, lock *LockedApp) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "package_name"}},
		UpdateAll: true,
	}).Create(lock).Error
}

// Delete removes the lock for pkg. Deleting a missing lock is not an error.
func (r *LockRepository) Delete(ctx context.Context, pkg string) error {
	res := r.db.WithContext(ctx).Where("package_name = ?", pkg).Delete(&LockedApp{})
	if res.Error != nil {
		return dbError(res.Error, "delete_lock", "", "package", pkg)
	}
	if res.RowsAffected > 0 {
		r.broker.publish(TopicLocks)
	}
	return nil
}

// SweepExpired removes every record with LockUntil <= now and returns how
// many were removed.
func (r *LockRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("lock_until <= ?", now.UnixMilli()).Delete(&LockedApp{})
	if res.Error != nil {
		return 0, dbError(res.Error, "sweep_expired", "")
	}
	if res.RowsAffected > 0 {
		r.broker.publish(TopicLocks)
	}
	return res.RowsAffected, nil
}

// ListActive returns all locks in force at now, soonest expiry first.
func (r *LockRepository) ListActive(ctx context.Context, now time.Time) ([]LockedApp, error) {
	var locks []LockedApp
	err := r.db.WithContext(ctx).
		Where("lock_until > ?", now.UnixMilli()).
		Order("lock_until ASC").
		Find(&locks).Error
	if err != nil {
		return nil, dbError(err, "list_active_locks", "")
	}
	return locks, nil
}

// Changes returns a coalescing notification channel that fires after the
// lock table changes, and a function that unsubscribes and closes it.
func (r *LockRepository) Changes() (<-chan struct{}, func()) {
	return r.broker.subscribe(TopicLocks)
}
