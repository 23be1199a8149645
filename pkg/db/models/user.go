package models

import "time"

// User is an annotator. Users are created lazily on first reference.
type User struct {
	ID          uint   `gorm:"primaryKey"`
	Username    string `gorm:"type:text;not null;uniqueIndex"`
	DisplayName string `gorm:"type:text"`

	CreatedAt time.Time
}
