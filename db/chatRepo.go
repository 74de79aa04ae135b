package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	errs "github.com/techagentng/qwik/errors"
	"github.com/techagentng/qwik/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxThreadAttempts bounds the find-or-create loop. A second pass only
// happens when a concurrent insert won the race.
const maxThreadAttempts = 3

// ChatRepository persists threads and messages.
type ChatRepository interface {
	PersistMessage(ctx context.Context, senderID, peerID uint, text string) (*models.Message, error)
	MarkRead(ctx context.Context, threadID, viewerID uint) (int64, error)
	UnreadCountFor(ctx context.Context, userID uint) (int64, error)
	UnreadInThread(ctx context.Context, threadID, viewerID uint) (int64, error)
	ThreadsFor(ctx context.Context, userID uint) ([]models.Thread, error)
	MessagesFor(ctx context.Context, threadID uint) ([]models.Message, error)
	FindThread(ctx context.Context, a, b uint) (*models.Thread, error)
	LastMessage(ctx context.Context, threadID uint) (*models.Message, error)
}

type chatRepo struct {
	DB     *gorm.DB
	locker PairLocker
}

func NewChatRepo(db *GormDB, locker PairLocker) ChatRepository {
	if locker == nil {
		locker = NewLocalPairLocker()
	}
	return &chatRepo{DB: db.DB, locker: locker}
}

// PersistMessage stores a message from senderID to peerID, creating the
// pair's thread on first use.
func (r *chatRepo) PersistMessage(ctx context.Context, senderID, peerID uint, text string) (*models.Message, error) {
	if senderID == 0 || peerID == 0 {
		return nil, errs.ErrUserNotFound
	}
	if senderID == peerID {
		return nil, errs.ErrSelfConversation
	}

	var peer models.User
	if err := r.DB.WithContext(ctx).Select("id").Where("id = ?", peerID).Take(&peer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "find peer")
	}

	first, second := models.NormalizePair(senderID, peerID)
	var msg *models.Message
	err := r.locker.WithPairLock(ctx, first, second, func() error {
		return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			thread, err := findOrCreateThread(tx, first, second)
			if err != nil {
				return err
			}
			if err := tx.Model(thread).Update("updated_at", time.Now()).Error; err != nil {
				return errors.Wrap(err, "bump thread activity")
			}
			m := &models.Message{ThreadID: thread.ID, SenderID: senderID, Text: text}
			if err := tx.Create(m).Error; err != nil {
				return errors.Wrap(err, "create message")
			}
			msg = m
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// findOrCreateThread relies on the unique pair index: the insert is a no-op
// when another writer got there first, and the next pass reads its row.
func findOrCreateThread(tx *gorm.DB, first, second uint) (*models.Thread, error) {
	for attempt := 0; attempt < maxThreadAttempts; attempt++ {
		var thread models.Thread
		err := tx.Where("first_user_id = ? AND second_user_id = ?", first, second).Take(&thread).Error
		if err == nil {
			return &thread, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(err, "find thread")
		}

		thread = models.Thread{FirstUserID: first, SecondUserID: second}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&thread)
		if res.Error != nil {
			return nil, errors.Wrap(res.Error, "create thread")
		}
		if res.RowsAffected == 1 {
			return &thread, nil
		}
	}
	return nil, errors.Errorf("thread %d_%d: find-or-create did not settle", first, second)
}

// MarkRead flags every unread message in the thread that viewerID did not
// send. It returns the number of messages changed.
func (r *chatRepo) MarkRead(ctx context.Context, threadID, viewerID uint) (int64, error) {
	res := r.DB.WithContext(ctx).
		Model(&models.Message{}).
		Where("thread_id = ? AND sender_id <> ? AND is_read = ?", threadID, viewerID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "mark read")
	}
	return res.RowsAffected, nil
}

func (r *chatRepo) UnreadCountFor(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).
		Model(&models.Message{}).
		Joins("JOIN threads ON threads.id = messages.thread_id").
		Where("(threads.first_user_id = ? OR threads.second_user_id = ?)", userID, userID).
		Where("messages.sender_id <> ? AND messages.is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count unread")
	}
	return count, nil
}

func (r *chatRepo) UnreadInThread(ctx context.Context, threadID, viewerID uint) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).
		Model(&models.Message{}).
		Where("thread_id = ? AND sender_id <> ? AND is_read = ?", threadID, viewerID, false).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count unread in thread")
	}
	return count, nil
}

// ThreadsFor lists the user's threads, most recent activity first.
func (r *chatRepo) ThreadsFor(ctx context.Context, userID uint) ([]models.Thread, error) {
	var threads []models.Thread
	err := r.DB.WithContext(ctx).
		Where("first_user_id = ? OR second_user_id = ?", userID, userID).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&threads).Error
	if err != nil {
		return nil, errors.Wrap(err, "list threads")
	}
	return threads, nil
}

// MessagesFor returns the thread's messages oldest first.
func (r *chatRepo) MessagesFor(ctx context.Context, threadID uint) ([]models.Message, error) {
	var messages []models.Message
	err := r.DB.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	return messages, nil
}

// FindThread looks the pair's thread up without creating it.
func (r *chatRepo) FindThread(ctx context.Context, a, b uint) (*models.Thread, error) {
	first, second := models.NormalizePair(a, b)
	var thread models.Thread
	err := r.DB.WithContext(ctx).
		Where("first_user_id = ? AND second_user_id = ?", first, second).
		Take(&thread).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrThreadNotFound
		}
		return nil, errors.Wrap(err, "find thread")
	}
	return &thread, nil
}

// LastMessage returns nil without error for a thread with no messages.
func (r *chatRepo) LastMessage(ctx context.Context, threadID uint) (*models.Message, error) {
	var msg models.Message
	err := r.DB.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at DESC").
		Order("id DESC").
		Take(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "last message")
	}
	return &msg, nil
}
