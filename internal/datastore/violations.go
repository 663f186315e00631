package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/haramshield/haramshield-go/internal/errors"
)

// ViolationRepository is the append-only violation log.
type ViolationRepository struct {
	db     *gorm.DB
	broker *broker
}

// Append stores entry and fills in its ID.
func (r *ViolationRepository) Append(ctx context.Context, entry *ViolationLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return dbError(err, "append_violation", errors.PriorityHigh,
			"package", entry.PackageName,
			"category", entry.Category)
	}
	r.broker.publish(TopicViolations)
	return nil
}

// Recent returns the newest entries first. limit <= 0 returns everything.
func (r *ViolationRepository) Recent(ctx context.Context, limit int) ([]ViolationLog, error) {
	var out []ViolationLog
	q := r.db.WithContext(ctx).Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, dbError(err, "recent_violations", "")
	}
	return out, nil
}

// ForPackage returns the newest entries for pkg first.
func (r *ViolationRepository) ForPackage(ctx context.Context, pkg string, limit int) ([]ViolationLog, error) {
	var out []ViolationLog
	q := r.db.WithContext(ctx).Where("package_name = ?", pkg).Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, dbError(err, "package_violations", "", "package", pkg)
	}
	return out, nil
}

// Between returns entries with from <= timestamp < to in time order.
func (r *ViolationRepository) Between(ctx context.Context, from, to time.Time) ([]ViolationLog, error) {
	var out []ViolationLog
	err := r.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", from.UnixMilli(), to.UnixMilli()).
		Order("timestamp ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, dbError(err, "violations_between", "")
	}
	return out, nil
}

// CountByCategory counts entries since the given time per category.
func (r *ViolationRepository) CountByCategory(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Category string
		Total    int64
	}
	err := r.db.WithContext(ctx).Model(&ViolationLog{}).
		Select("category, COUNT(*) AS total").
		Where("timestamp >= ?", since.UnixMilli()).
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, dbError(err, "count_by_category", "")
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Category] = row.Total
	}
	return out, nil
}

// Count returns the number of entries.
func (r *ViolationRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&ViolationLog{}).Count(&n).Error; err != nil {
		return 0, dbError(err, "count_violations", "")
	}
	return n, nil
}

// DeleteOlderThan is the retention sweep; it is the only way entries leave
// the log.
func (r *ViolationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", cutoff.UnixMilli()).Delete(&ViolationLog{})
	if res.Error != nil {
		return 0, dbError(res.Error, "prune_violations", "", "cutoff", cutoff)
	}
	if res.RowsAffected > 0 {
		r.broker.publish(TopicViolations)
	}
	return res.RowsAffected, nil
}

// Changes returns a coalescing notification channel for the violation log.
func (r *ViolationRepository) Changes() (<-chan struct{}, func()) {
	return r.broker.subscribe(TopicViolations)
}
