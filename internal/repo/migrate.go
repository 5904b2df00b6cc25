// Package repo – schema migrations.
//
// The directory schema is versioned explicitly instead of relying on
// AutoMigrate: upgrades are additive, sequential, and each step runs in
// its own transaction. The current version is tracked in the
// schema_version table and steps are applied in order at startup, so a
// database created by an older build is brought forward exactly once.
package repo

import (
	"fmt"

	"gorm.io/gorm"
)

// schemaVersion tracks the single applied-migrations watermark.
type schemaVersion struct {
	Version int `gorm:"column:version;primaryKey"`
}

func (schemaVersion) TableName() string { return "schema_version" }

// migration is one sequential schema upgrade step.
type migration struct {
	version     int
	description string
	run         func(tx *gorm.DB) error
}

// migrations must stay append-only; versions are contiguous from 1.
var migrations = []migration{
	{
		version:     1,
		description: "initial portal/user/puppet/message tables",
		run: func(tx *gorm.DB) error {
			stmts := []string{
				`CREATE TABLE portals (
					wazo_uuid TEXT PRIMARY KEY,
					mxid      TEXT
				)`,
				`CREATE UNIQUE INDEX ux_portal_mxid ON portals (mxid)`,
				`CREATE TABLE users (
					mxid      TEXT PRIMARY KEY,
					wazo_uuid TEXT
				)`,
				`CREATE INDEX idx_users_wazo_uuid ON users (wazo_uuid)`,
				`CREATE TABLE puppets (
					wazo_uuid     TEXT PRIMARY KEY,
					first_name    TEXT,
					last_name     TEXT,
					username      TEXT,
					is_registered BOOLEAN NOT NULL DEFAULT false,
					custom_mxid   TEXT
				)`,
				`CREATE TABLE messages (
					mxid           TEXT PRIMARY KEY,
					mx_room        TEXT NOT NULL,
					wazo_uuid      TEXT,
					wazo_room_uuid TEXT,
					content        TEXT,
					timestamp      BIGINT
				)`,
				`CREATE INDEX idx_messages_mx_room ON messages (mx_room)`,
				`CREATE INDEX idx_messages_wazo_uuid ON messages (wazo_uuid)`,
			}
			for _, s := range stmts {
				if err := tx.Exec(s).Error; err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		version:     2,
		description: "add homeserver session columns to puppets",
		run: func(tx *gorm.DB) error {
			stmts := []string{
				`ALTER TABLE puppets ADD COLUMN access_token TEXT`,
				`ALTER TABLE puppets ADD COLUMN next_batch TEXT`,
				`ALTER TABLE puppets ADD COLUMN base_url TEXT`,
			}
			for _, s := range stmts {
				if err := tx.Exec(s).Error; err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// Migrate brings the schema up to the latest version. It is safe to call
// on every startup: already-applied steps are skipped, each pending step
// runs inside a transaction together with its version bump.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&schemaVersion{}); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current := 0
	var row schemaVersion
	if err := db.Order("version desc").First(&row).Error; err == nil {
		current = row.Version
	} else if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		step := m
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := step.run(tx); err != nil {
				return err
			}
			return tx.Create(&schemaVersion{Version: step.version}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", step.version, step.description, err)
		}
	}
	return nil
}

// SchemaVersion reports the highest applied migration version, or 0 for
// a fresh database.
func SchemaVersion(db *gorm.DB) (int, error) {
	var row schemaVersion
	err := db.Order("version desc").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Version, nil
}
