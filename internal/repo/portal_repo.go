// Package repo – portal repository.
//
// Thin CRUD over the portals table. No business logic: get-or-create
// semantics, caching, and the single-writer rule for the Matrix room ID
// live in services.PortalService.
//
// Error semantics:
//   - When a portal is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated. Unique-constraint losers are
//     expected to re-read the now-present row.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-wazo-bridge/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreatePortal inserts a new portal row for the given Wazo room, with no
// Matrix room assigned yet. A concurrent duplicate insert surfaces as a
// primary-key violation; the caller re-reads in that case.
func CreatePortal(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Portal, error) {
	p := &domain.Portal{WazoUUID: wazoUUID}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetPortalByWazoUUID fetches a portal by its Wazo room UUID, or
// ErrNotFound if missing.
func GetPortalByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Portal, error) {
	var p domain.Portal
	if err := db.WithContext(ctx).Where("wazo_uuid = ?", wazoUUID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPortalByMXID fetches a portal by its Matrix room ID, or ErrNotFound
// if no portal has claimed that room.
func GetPortalByMXID(ctx context.Context, db *gorm.DB, mxid string) (*domain.Portal, error) {
	var p domain.Portal
	if err := db.WithContext(ctx).Where("mxid = ?", mxid).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// SetPortalMXID assigns the Matrix room ID to a portal that does not
// have one yet. The WHERE clause keeps the write first-wins: if another
// writer already set an MXID, zero rows are affected and ErrNotFound is
// returned so the caller re-reads the winning value.
func SetPortalMXID(ctx context.Context, db *gorm.DB, wazoUUID, mxid string) error {
	res := db.WithContext(ctx).
		Model(&domain.Portal{}).
		Where("wazo_uuid = ? AND mxid IS NULL", wazoUUID).
		Update("mxid", mxid)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
