package models

// Tag is unique on (name, category); the same name under two categories
// is two tags.
type Tag struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"type:text;not null;uniqueIndex:idx_tag_name_category,priority:1"`
	Category    string `gorm:"type:text;not null;default:'';uniqueIndex:idx_tag_name_category,priority:2"`
	Description string `gorm:"type:text"`
}

// Categories is the fixed vocabulary a tag category may take.
var Categories = []string{"", "condition", "result", "quality", "date", "method", "people"}

func ValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}
