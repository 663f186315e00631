package datastore

import (
	"context"
	stderrors "errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WhitelistRepository stores packages exempt from enforcement.
type WhitelistRepository struct {
	db     *gorm.DB
	broker *broker
}

// Add whitelists the package and clears any lock it holds, in one transaction.
func (r *WhitelistRepository) Add(ctx context.Context, entry *WhitelistedApp) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "package_name"}},
			UpdateAll: true,
		}).Create(entry).Error; err != nil {
			return err
		}
		return tx.Where("package_name = ?", entry.PackageName).Delete(&LockedApp{}).Error
	})
	if err != nil {
		return dbError(err, "whitelist_add", "", "package", entry.PackageName)
	}
	r.broker.publish(TopicWhitelist, TopicLocks)
	return nil
}

// Remove drops pkg from the whitelist. Removing a missing entry is not an error.
func (r *WhitelistRepository) Remove(ctx context.Context, pkg string) error {
	res := r.db.WithContext(ctx).Where("package_name = ?", pkg).Delete(&WhitelistedApp{})
	if res.Error != nil {
		return dbError(res.Error, "whitelist_remove", "", "package", pkg)
	}
	if res.RowsAffected > 0 {
		r.broker.publish(TopicWhitelist)
	}
	return nil
}

// Contains reports whether pkg is whitelisted.
func (r *WhitelistRepository) Contains(ctx context.Context, pkg string) (bool, error) {
	var entry WhitelistedApp
	err := r.db.WithContext(ctx).Where("package_name = ?", pkg).Take(&entry).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dbError(err, "whitelist_contains", "", "package", pkg)
	}
	return true, nil
}

// List returns all entries ordered by package name.
func (r *WhitelistRepository) List(ctx context.Context) ([]WhitelistedApp, error) {
	var out []WhitelistedApp
	if err := r.db.WithContext(ctx).Order("package_name ASC").Find(&out).Error; err != nil {
		return nil, dbError(err, "whitelist_list", "")
	}
	return out, nil
}

// Changes returns a coalescing notification channel for the whitelist.
func (r *WhitelistRepository) Changes() (<-chan struct{}, func()) {
	return r.broker.subscribe(TopicWhitelist)
}
