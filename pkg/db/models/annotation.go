package models

import "time"

// AnnotationState is stored in the is_deleted column.
type AnnotationState int

const (
	StateActive  AnnotationState = 0
	StateDeleted AnnotationState = 1
)

func (s AnnotationState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Annotation records that a user asserts a tag on an image. Rows are never
// removed by normal operation: deletion flips State and reactivation flips
// it back.
type Annotation struct {
	ID      uint            `gorm:"primaryKey"`
	ImageID uint            `gorm:"not null;uniqueIndex:idx_annotation_triple,priority:1"`
	TagID   uint            `gorm:"not null;uniqueIndex:idx_annotation_triple,priority:2"`
	UserID  uint            `gorm:"not null;uniqueIndex:idx_annotation_triple,priority:3;index"`
	State   AnnotationState `gorm:"column:is_deleted;not null;default:0"`

	CreatedAt time.Time

	// Relationships
	Tag  Tag  `gorm:"foreignKey:TagID;references:ID;constraint:OnDelete:CASCADE"`
	User User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
}

func (a *Annotation) Active() bool {
	return a.State == StateActive
}

// MaxAnnotators caps the distinct users holding active annotations on one image.
const MaxAnnotators = 5
