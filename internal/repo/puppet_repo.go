// Package repo – puppet repository.
//
// CRUD for the puppets table holding ghost accounts and their
// homeserver session credentials.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-wazo-bridge/internal/domain"
)

// CreatePuppet inserts an unregistered puppet row for the given Wazo
// user. A concurrent duplicate insert surfaces as a primary-key
// violation; the caller re-reads in that case.
func CreatePuppet(ctx context.Context, db *gorm.DB, p *domain.Puppet) error {
	return db.WithContext(ctx).Create(p).Error
}

// GetPuppetByWazoUUID fetches a puppet by Wazo user UUID, or ErrNotFound.
func GetPuppetByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Puppet, error) {
	var p domain.Puppet
	if err := db.WithContext(ctx).Where("wazo_uuid = ?", wazoUUID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkPuppetRegistered persists the homeserver session obtained during
// ghost registration and flips is_registered. The WHERE clause keeps
// the write first-wins under concurrent registration attempts.
func MarkPuppetRegistered(ctx context.Context, db *gorm.DB, wazoUUID, customMXID, accessToken, baseURL string) error {
	res := db.WithContext(ctx).
		Model(&domain.Puppet{}).
		Where("wazo_uuid = ? AND is_registered = ?", wazoUUID, false).
		Updates(map[string]any{
			"is_registered": true,
			"custom_mxid":   customMXID,
			"access_token":  accessToken,
			"base_url":      baseURL,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdatePuppetNames refreshes the display-name fields of a puppet.
func UpdatePuppetNames(ctx context.Context, db *gorm.DB, wazoUUID, firstName, lastName, username string) error {
	return db.WithContext(ctx).
		Model(&domain.Puppet{}).
		Where("wazo_uuid = ?", wazoUUID).
		Updates(map[string]any{
			"first_name": firstName,
			"last_name":  lastName,
			"username":   username,
		}).Error
}

// SetPuppetNextBatch stores the puppet's sync cursor.
func SetPuppetNextBatch(ctx context.Context, db *gorm.DB, wazoUUID, nextBatch string) error {
	return db.WithContext(ctx).
		Model(&domain.Puppet{}).
		Where("wazo_uuid = ?", wazoUUID).
		Update("next_batch", nextBatch).Error
}
