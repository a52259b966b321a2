package queue

import (
	"time"

	"gorm.io/gorm"
)

// GormStore persists queue entries through a gorm connection.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Add(e *Entry) error {
	return s.db.Create(e).Error
}

// ClaimDue selects due pending entries and claims each with a conditional
// status update, so an entry grabbed by a concurrent drain is skipped.
func (s *GormStore) ClaimDue(now time.Time, limit int) ([]Entry, error) {
	var candidates []Entry
	q := s.db.Where("status = ? AND scheduled_at <= ?", StatusPending, now).
		Order("priority ASC, scheduled_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&candidates).Error; err != nil {
		return nil, err
	}

	claimed := make([]Entry, 0, len(candidates))
	for _, e := range candidates {
		res := s.db.Model(&Entry{}).
			Where("id = ? AND status = ?", e.ID, StatusPending).
			Update("status", StatusProcessing)
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		e.Status = StatusProcessing
		claimed = append(claimed, e)
	}
	return claimed, nil
}

func (s *GormStore) Update(e *Entry) error {
	return s.db.Save(e).Error
}

func (s *GormStore) PendingCount() (int, error) {
	var n int64
	err := s.db.Model(&Entry{}).Where("status = ?", StatusPending).Count(&n).Error
	return int(n), err
}

func (s *GormStore) DeleteTerminalBefore(cutoff time.Time) (int, error) {
	res := s.db.
		Where("status IN ? AND updated_at < ?",
			[]string{StatusSent, StatusSentFallback, StatusFailed, StatusBlocked}, cutoff).
		Delete(&Entry{})
	return int(res.RowsAffected), res.Error
}
