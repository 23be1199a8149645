package models

import "time"

// ActiveTag is the read projection of an active annotation joined with its
// tag and author.
type ActiveTag struct {
	ImageID   uint
	Name      string
	Category  string
	Username  string
	CreatedAt time.Time
}

// VoteView is a quality vote joined with its author.
type VoteView struct {
	ImageID   uint
	Label     string
	Score     *float64
	Username  string
	CreatedAt time.Time
}

// Counts summarises row counts per entity.
type Counts struct {
	Users             int64
	Images            int64
	Tags              int64
	Attachments       int64
	Annotations       int64
	ActiveAnnotations int64
	QualityVotes      int64
}
