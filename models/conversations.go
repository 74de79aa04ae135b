package models

import "time"

// Thread is the single conversation between two users. The pair is stored
// normalized (FirstUserID < SecondUserID) so the unique index covers both
// orderings.
type Thread struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	FirstUserID  uint      `gorm:"not null;uniqueIndex:idx_thread_pair" json:"first_user_id"`
	SecondUserID uint      `gorm:"not null;uniqueIndex:idx_thread_pair;index" json:"second_user_id"`
	UpdatedAt    time.Time `gorm:"index" json:"updated_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// NormalizePair orders two user ids ascending.
func NormalizePair(a, b uint) (uint, uint) {
	if a < b {
		return a, b
	}
	return b, a
}

// OtherParticipant returns the participant that is not userID.
func (t *Thread) OtherParticipant(userID uint) uint {
	if t.FirstUserID == userID {
		return t.SecondUserID
	}
	return t.FirstUserID
}

type InboxThread struct {
	ThreadID    uint      `json:"thread_id"`
	OtherUser   ChatUser  `json:"other_user"`
	LastMessage *Message  `json:"last_message"`
	UnreadCount int64     `json:"unread_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Inbox struct {
	Threads     []InboxThread `json:"threads"`
	Suggestions []ChatUser    `json:"suggestions"`
}

// ChatRoom is what a viewer sees when opening a conversation. Thread is nil
// until the first message has been sent.
type ChatRoom struct {
	OtherUser  ChatUser  `json:"other_user"`
	Thread     *Thread   `json:"thread"`
	Messages   []Message `json:"messages"`
	MarkedRead int64     `json:"marked_read"`
}
