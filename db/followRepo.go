package db

import (
	"context"

	"github.com/pkg/errors"
	"github.com/techagentng/qwik/models"
	"gorm.io/gorm"
)

type FollowRepository interface {
	Follow(followerID, followingID uint) error
	// SuggestFollowed returns users that userID follows, skipping staff and
	// anyone in exclude.
	SuggestFollowed(ctx context.Context, userID uint, exclude []uint, limit int) ([]models.User, error)
}

type followRepo struct {
	DB *gorm.DB
}

func NewFollowRepo(db *GormDB) FollowRepository {
	return &followRepo{db.DB}
}

func (r *followRepo) Follow(followerID, followingID uint) error {
	follow := models.Follow{FollowerID: followerID, FollowingID: followingID}
	if err := r.DB.Where(follow).FirstOrCreate(&follow).Error; err != nil {
		return errors.Wrap(err, "follow")
	}
	return nil
}

func (r *followRepo) SuggestFollowed(ctx context.Context, userID uint, exclude []uint, limit int) ([]models.User, error) {
	exclude = append([]uint{userID}, exclude...)

	var users []models.User
	err := r.DB.WithContext(ctx).
		Joins("JOIN follows ON follows.following_id = users.id").
		Where("follows.follower_id = ?", userID).
		Where("users.is_staff = ?", false).
		Where("users.id NOT IN ?", exclude).
		Order("users.username ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, errors.Wrap(err, "suggest followed users")
	}
	return users, nil
}
