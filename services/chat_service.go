package services

import (
	"context"
	"fmt"

	"github.com/leebenson/conform"
	"github.com/pkg/errors"
	"github.com/techagentng/qwik/config"
	"github.com/techagentng/qwik/db"
	errs "github.com/techagentng/qwik/errors"
	"github.com/techagentng/qwik/models"
)

const (
	suggestionLimit = 5
	searchLimit     = 8
)

// ChatService backs the HTTP chat pages. Live delivery goes through
// realtime sessions, not through here.
type ChatService interface {
	Inbox(ctx context.Context, userID uint) (*models.Inbox, error)
	OpenRoom(ctx context.Context, userID uint, username string) (*models.ChatRoom, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
	SearchUsers(ctx context.Context, userID uint, query string) ([]models.UserSearchResult, error)
}

type chatService struct {
	Config     *config.Config
	chatRepo   db.ChatRepository
	authRepo   db.AuthRepository
	followRepo db.FollowRepository
}

func NewChatService(chatRepo db.ChatRepository, authRepo db.AuthRepository, followRepo db.FollowRepository, conf *config.Config) ChatService {
	return &chatService{
		Config:     conf,
		chatRepo:   chatRepo,
		authRepo:   authRepo,
		followRepo: followRepo,
	}
}

// Inbox lists the user's conversations, most recent first, and suggests
// followed users they have not talked to yet.
func (s *chatService) Inbox(ctx context.Context, userID uint) (*models.Inbox, error) {
	threads, err := s.chatRepo.ThreadsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	otherIDs := make([]uint, 0, len(threads))
	for i := range threads {
		otherIDs = append(otherIDs, threads[i].OtherParticipant(userID))
	}
	users, err := s.authRepo.FindUsersByIDs(ctx, otherIDs)
	if err != nil {
		return nil, err
	}

	inbox := &models.Inbox{
		Threads:     make([]models.InboxThread, 0, len(threads)),
		Suggestions: []models.ChatUser{},
	}
	for i := range threads {
		thread := &threads[i]
		other, ok := users[thread.OtherParticipant(userID)]
		if !ok {
			// the other account is gone
			continue
		}
		last, err := s.chatRepo.LastMessage(ctx, thread.ID)
		if err != nil {
			return nil, err
		}
		unread, err := s.chatRepo.UnreadInThread(ctx, thread.ID, userID)
		if err != nil {
			return nil, err
		}
		inbox.Threads = append(inbox.Threads, models.InboxThread{
			ThreadID:    thread.ID,
			OtherUser:   other.ToChatUser(),
			LastMessage: last,
			UnreadCount: unread,
			UpdatedAt:   thread.UpdatedAt,
		})
	}

	suggested, err := s.followRepo.SuggestFollowed(ctx, userID, otherIDs, suggestionLimit)
	if err != nil {
		return nil, err
	}
	for i := range suggested {
		inbox.Suggestions = append(inbox.Suggestions, suggested[i].ToChatUser())
	}
	return inbox, nil
}

// OpenRoom never creates a thread: a conversation only exists once a
// message has been sent.
func (s *chatService) OpenRoom(ctx context.Context, userID uint, username string) (*models.ChatRoom, error) {
	other, err := s.authRepo.FindUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if other.ID == userID {
		return nil, errs.ErrSelfConversation
	}

	room := &models.ChatRoom{
		OtherUser: other.ToChatUser(),
		Messages:  []models.Message{},
	}
	thread, err := s.chatRepo.FindThread(ctx, userID, other.ID)
	if errors.Is(err, errs.ErrThreadNotFound) {
		return room, nil
	}
	if err != nil {
		return nil, err
	}
	room.Thread = thread

	marked, err := s.chatRepo.MarkRead(ctx, thread.ID, userID)
	if err != nil {
		return nil, err
	}
	room.MarkedRead = marked

	messages, err := s.chatRepo.MessagesFor(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	room.Messages = messages
	return room, nil
}

func (s *chatService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.chatRepo.UnreadCountFor(ctx, userID)
}

type searchQuery struct {
	Q string `conform:"trim"`
}

// SearchUsers with a blank query lists the first users by username, the
// same as an empty search box.
func (s *chatService) SearchUsers(ctx context.Context, userID uint, query string) ([]models.UserSearchResult, error) {
	q := searchQuery{Q: query}
	if err := conform.Strings(&q); err != nil {
		return nil, errors.Wrap(err, "normalize search query")
	}
	users, err := s.authRepo.SearchUsers(ctx, q.Q, userID, searchLimit)
	if err != nil {
		return nil, err
	}
	results := make([]models.UserSearchResult, 0, len(users))
	for i := range users {
		results = append(results, models.UserSearchResult{
			Username: users[i].Username,
			Avatar:   users[i].AvatarURL(),
			URL:      fmt.Sprintf("/chats/%s/", users[i].Username),
		})
	}
	return results, nil
}
