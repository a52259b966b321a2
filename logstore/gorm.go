package logstore

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// GormStore persists entries through a gorm connection.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the delivery log table and returns a store bound to
// the connection.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Insert(e *Entry) error {
	return s.db.Create(e).Error
}

func (s *GormStore) SentSince(since time.Time) (int, error) {
	var n int64
	err := s.db.Model(&Entry{}).
		Where("status = ? AND created_at >= ?", StatusSent, since).
		Count(&n).Error
	return int(n), err
}

func (s *GormStore) FindByMessageID(messageID string) (*Entry, error) {
	var e Entry
	err := s.db.Where("message_id = ?", messageID).Order("id DESC").First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *GormStore) StatsBetween(from, to time.Time) (DayStats, error) {
	var rows []struct {
		Status string
		N      int
	}
	err := s.db.Model(&Entry{}).
		Select("status, count(*) as n").
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return DayStats{}, err
	}
	var stats DayStats
	for _, r := range rows {
		switch r.Status {
		case StatusSent:
			stats.Sent = r.N
		case StatusFailed:
			stats.Failed = r.N
		case StatusBlocked:
			stats.Blocked = r.N
		}
	}
	return stats, nil
}

func (s *GormStore) DeleteBefore(cutoff time.Time) (int, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&Entry{})
	return int(res.RowsAffected), res.Error
}
