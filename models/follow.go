package models

import "time"

// Follow records that FollowerID follows FollowingID.
type Follow struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	FollowerID  uint      `json:"follower_id" gorm:"not null;uniqueIndex:idx_follow_pair"`
	FollowingID uint      `json:"following_id" gorm:"not null;uniqueIndex:idx_follow_pair;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}
