// Package repo – message repository.
//
// CRUD for the relayed-message audit table. Besides auditing, the table
// answers "has this Wazo message already been relayed?", which is how
// the webhook router tolerates at-least-once redeliveries.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-wazo-bridge/internal/domain"
)

// CreateMessage records one relayed message. The Matrix event ID is the
// primary key, so double accounting of the same relay is impossible.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	return db.WithContext(ctx).Create(m).Error
}

// GetMessageByMXID fetches a relayed-message record by its Matrix event
// ID, or ErrNotFound.
func GetMessageByMXID(ctx context.Context, db *gorm.DB, mxid string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("mxid = ?", mxid).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessageByWazoUUID fetches the relay record for a Wazo message UUID,
// or ErrNotFound when the message has not been relayed yet.
func GetMessageByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("wazo_uuid = ?", wazoUUID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessagesInRoom returns the number of relayed messages recorded
// for one Matrix room.
func CountMessagesInRoom(ctx context.Context, db *gorm.DB, mxRoom string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("mx_room = ?", mxRoom).
		Count(&total).Error
	return total, err
}
