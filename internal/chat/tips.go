package chat

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
)

// EcoTip is one curated knowledge-base entry the chatbot can answer from.
type EcoTip struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Topic     string    `gorm:"column:topic;size:50;not null;index"`
	Title     string    `gorm:"column:title;size:120;not null"`
	Body      string    `gorm:"column:body;size:2000;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EcoTip) TableName() string {
	return "eco_tips"
}

// TipStore looks up knowledge-base entries by naive keyword match. Good
// enough for a curated table of a few hundred rows.
type TipStore struct {
	db *gorm.DB
}

// NewTipStore constructs a TipStore.
func NewTipStore(db *gorm.DB) *TipStore {
	return &TipStore{db: db}
}

// Search returns tips whose topic, title or body mention any query keyword.
func (s *TipStore) Search(ctx context.Context, query string, limit int) ([]EcoTip, error) {
	if limit <= 0 {
		limit = 3
	}

	scope := s.db.WithContext(ctx).Model(&EcoTip{})
	matched := false
	for _, keyword := range strings.Fields(strings.ToLower(query)) {
		if len(keyword) < 3 {
			continue
		}
		pattern := "%" + keyword + "%"
		clause := s.db.Where("LOWER(topic) LIKE ?", pattern).
			Or("LOWER(title) LIKE ?", pattern).
			Or("LOWER(body) LIKE ?", pattern)
		if matched {
			scope = scope.Or(clause)
		} else {
			scope = scope.Where(clause)
			matched = true
		}
	}
	if !matched {
		return nil, nil
	}

	var tips []EcoTip
	if err := scope.Limit(limit).Find(&tips).Error; err != nil {
		return nil, err
	}
	return tips, nil
}
