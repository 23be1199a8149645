package models

import "time"

// QualityVote holds the latest label a user gave an image. There is at
// most one row per (image, user).
type QualityVote struct {
	ID      uint     `gorm:"primaryKey"`
	ImageID uint     `gorm:"not null;uniqueIndex:idx_vote_image_user,priority:1"`
	UserID  uint     `gorm:"not null;uniqueIndex:idx_vote_image_user,priority:2"`
	Label   string   `gorm:"type:text;not null"`
	Score   *float64 `gorm:""`

	CreatedAt time.Time

	// Relationships
	User User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
}

const (
	LabelGood   = "good"
	LabelReview = "review"
	LabelBad    = "bad"
)

var QualityLabels = []string{LabelGood, LabelReview, LabelBad}

func ValidLabel(label string) bool {
	for _, l := range QualityLabels {
		if l == label {
			return true
		}
	}
	return false
}
