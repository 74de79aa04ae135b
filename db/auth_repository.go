package db

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	errs "github.com/techagentng/qwik/errors"
	"github.com/techagentng/qwik/models"
	"gorm.io/gorm"
)

// AuthRepository resolves identities. Account creation lives outside this
// service.
type AuthRepository interface {
	FindUserByID(id uint) (*models.User, error)
	FindUserByUsername(username string) (*models.User, error)
	FindUsersByIDs(ctx context.Context, ids []uint) (map[uint]*models.User, error)
	SearchUsers(ctx context.Context, query string, excludeID uint, limit int) ([]models.User, error)
	CreateUser(user *models.User) (*models.User, error)
}

type authRepo struct {
	DB *gorm.DB
}

func NewAuthRepo(db *GormDB) AuthRepository {
	return &authRepo{db.DB}
}

func (a *authRepo) CreateUser(user *models.User) (*models.User, error) {
	if user == nil {
		return nil, errors.New("user is nil")
	}
	if err := a.DB.Create(user).Error; err != nil {
		return nil, errors.Wrap(err, "create user")
	}
	return user, nil
}

func (a *authRepo) FindUserByID(id uint) (*models.User, error) {
	user := &models.User{}
	if err := a.DB.Where("id = ?", id).First(user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "find user by id")
	}
	if !user.Active() {
		return nil, errs.InActiveUserError
	}
	return user, nil
}

func (a *authRepo) FindUserByUsername(username string) (*models.User, error) {
	user := &models.User{}
	if err := a.DB.Where("username = ?", username).First(user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "find user by username")
	}
	return user, nil
}

func (a *authRepo) FindUsersByIDs(ctx context.Context, ids []uint) (map[uint]*models.User, error) {
	out := make(map[uint]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := a.DB.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "find users by ids")
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchUsers matches username or full name case-insensitively as a literal
// substring. An empty query matches everyone. Staff accounts and excludeID
// are never returned.
func (a *authRepo) SearchUsers(ctx context.Context, query string, excludeID uint, limit int) ([]models.User, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
	var users []models.User
	err := a.DB.WithContext(ctx).
		Where(`(LOWER(username) LIKE ? ESCAPE '\' OR LOWER(fullname) LIKE ? ESCAPE '\')`, pattern, pattern).
		Where("is_staff = ? AND id <> ?", false, excludeID).
		Order("username ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, errors.Wrap(err, "search users")
	}
	return users, nil
}
