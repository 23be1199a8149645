package models

import "time"

// Image is identified by the digest of its content. RelPath follows the
// file around when it is moved or renamed inside the library.
type Image struct {
	ID      uint   `gorm:"primaryKey"`
	RelPath string `gorm:"type:text;not null;index"`
	SHA256  string `gorm:"column:sha256;type:text;not null;uniqueIndex"`

	// File modification time at ingestion.
	CreatedAt time.Time

	// Relationships
	Attachments  []Attachment  `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
	Annotations  []Annotation  `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
	QualityVotes []QualityVote `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
}

// Attachment is an auxiliary file linked to exactly one image at creation.
type Attachment struct {
	ID      uint   `gorm:"primaryKey"`
	ImageID uint   `gorm:"not null;index"`
	Kind    string `gorm:"type:text;not null;index"`
	RelPath string `gorm:"type:text;not null"`
	SHA256  string `gorm:"column:sha256;type:text;not null;uniqueIndex"`

	CreatedAt time.Time
}

const AttachmentKindCSV = "csv"
