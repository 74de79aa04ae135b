package models

import (
	"time"
)

type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ThreadID  uint      `gorm:"not null;index:idx_message_thread_created,priority:1" json:"thread_id"`
	SenderID  uint      `gorm:"not null;index" json:"sender_id"`
	Text      string    `gorm:"type:text" json:"text"`
	IsRead    bool      `gorm:"not null;default:false;index" json:"is_read"`
	CreatedAt time.Time `gorm:"index:idx_message_thread_created,priority:2" json:"created_at"`
}
