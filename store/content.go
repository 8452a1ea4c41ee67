package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContentAnalysis is the stored summary of one analyzed content item. Rows are written once.
type ContentAnalysis struct {
	ID               uint     `gorm:"primarykey"`
	ContentID        string   `gorm:"uniqueIndex;not null"`
	UserID           string   `gorm:"index"`
	Platform         string
	ContentText      string
	RiskScore        int
	RiskLabel        string   `gorm:"index"`
	Categories       []string `gorm:"serializer:json"`
	Overrides        []string `gorm:"serializer:json"`
	Action           string
	Priority         string
	Queue            string
	ChildEscalation  bool
	ProcessingTimeMs int64
	SubmittedAt      time.Time
	CreatedAt        time.Time
}

func (ContentAnalysis) TableName() string {
	return "content_analysis"
}

type ContentStore struct {
	db *gorm.DB
}

func NewContentStore(db *gorm.DB) (*ContentStore, error) {
	if err := db.AutoMigrate(&ContentAnalysis{}); err != nil {
		return nil, err
	}
	return &ContentStore{db: db}, nil
}

// Create inserts a new row. A second row for the same content id fails with ErrConflict; the insert is
// skipped by the database rather than failing, so repeats are not logged as query errors.
func (s *ContentStore) Create(ctx context.Context, row *ContentAnalysis) error {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "content_id"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return Classify("content create", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("content %q already stored: %w", row.ContentID, ErrConflict)
	}
	return nil
}

func (s *ContentStore) Get(ctx context.Context, contentID string) (*ContentAnalysis, error) {
	var row ContentAnalysis
	if err := s.db.WithContext(ctx).Where("content_id = ?", contentID).Take(&row).Error; err != nil {
		return nil, Classify("content get", err)
	}
	return &row, nil
}

// CountByLabel returns the number of analyses per risk label.
func (s *ContentStore) CountByLabel(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		RiskLabel string
		N         int64
	}
	err := s.db.WithContext(ctx).Model(&ContentAnalysis{}).
		Select("risk_label, count(*) as n").
		Group("risk_label").
		Scan(&rows).Error
	if err != nil {
		return nil, Classify("content stats", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.RiskLabel] = r.N
	}
	return out, nil
}
