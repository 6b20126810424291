package core

import "time"

// Model holds the columns shared by every record.
type Model struct {
	ID        int       `json:"id" gorm:"primaryKey"`
	Status    int       `json:"status" gorm:"not null"`
	IsDeleted bool      `json:"is_deleted" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (m *Model) Base() *Model { return m }
