// Package repo – user repository.
//
// CRUD for the users table, which links real Matrix accounts to the
// Wazo identities that claim them.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-wazo-bridge/internal/domain"
)

// CreateUser inserts a user row linking mxid to wazoUUID. Pass a nil
// wazoUUID for an account with no known Wazo identity yet.
func CreateUser(ctx context.Context, db *gorm.DB, mxid string, wazoUUID *string) (*domain.User, error) {
	u := &domain.User{MXID: mxid, WazoUUID: wazoUUID}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByMXID fetches a user by Matrix account ID, or ErrNotFound.
func GetUserByMXID(ctx context.Context, db *gorm.DB, mxid string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("mxid = ?", mxid).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByWazoUUID fetches the user linked to a Wazo identity, or
// ErrNotFound when no Matrix account has claimed it.
func GetUserByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("wazo_uuid = ?", wazoUUID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// SetUserWazoUUID updates the Wazo identity linked to a Matrix account.
// Returns ErrNotFound when the account row does not exist.
func SetUserWazoUUID(ctx context.Context, db *gorm.DB, mxid string, wazoUUID *string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("mxid = ?", mxid).
		Update("wazo_uuid", wazoUUID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
