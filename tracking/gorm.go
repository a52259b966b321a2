package tracking

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// GormStore persists tracking events through a gorm connection.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Event{}, &Bounce{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Append(e *Event) error {
	return s.db.Create(e).Error
}

func (s *GormStore) FindOpen(messageID, email string) (*Event, error) {
	var e Event
	err := s.db.Where("type = ? AND message_id = ? AND email = ?", TypeOpen, messageID, email).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *GormStore) IncrementOpen(id uint) error {
	return s.db.Model(&Event{}).Where("id = ?", id).
		UpdateColumn("count", gorm.Expr("count + 1")).Error
}

func (s *GormStore) ByMessage(messageID string, from, to time.Time) ([]Event, error) {
	q := s.db.Model(&Event{})
	if messageID != "" {
		q = q.Where("message_id = ?", messageID)
	}
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to)
	}
	var out []Event
	err := q.Order("id").Find(&out).Error
	return out, err
}

func (s *GormStore) ByEmail(email string) ([]Event, error) {
	var out []Event
	err := s.db.Where("email = ?", email).Order("id DESC").Find(&out).Error
	return out, err
}

func (s *GormStore) AddBounce(b *Bounce) error {
	return s.db.Create(b).Error
}
