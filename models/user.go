package models

import "fmt"

// User is the part of an account the chat layer reads. Accounts are created
// and edited elsewhere.
type User struct {
	Model
	Fullname     string `json:"fullname"`
	Username     string `json:"username" gorm:"uniqueIndex;not null"`
	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	ThumbNailURL string `json:"thumbnail_url,omitempty"`
	IsStaff      bool   `json:"is_staff" gorm:"default:false"`
	// nil takes the column default; a bare bool false would be skipped on
	// insert and stored as true.
	IsActive *bool `json:"is_active" gorm:"default:true;not null"`
}

// Active reports whether the account may authenticate.
func (u *User) Active() bool {
	return u.IsActive == nil || *u.IsActive
}

type ChatUser struct {
	ID           uint   `json:"id"`
	Username     string `json:"username"`
	Fullname     string `json:"fullname"`
	ThumbNailURL string `json:"thumbnail_url"`
}

func (u *User) ToChatUser() ChatUser {
	return ChatUser{
		ID:           u.ID,
		Username:     u.Username,
		Fullname:     u.Fullname,
		ThumbNailURL: u.AvatarURL(),
	}
}

// AvatarURL falls back to a generated avatar when the user has no picture.
func (u *User) AvatarURL() string {
	if u.ThumbNailURL != "" {
		return u.ThumbNailURL
	}
	return fmt.Sprintf("https://ui-avatars.com/api/?name=%s", u.Username)
}

type UserSearchResult struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	URL      string `json:"url"`
}
