package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
)

type UserService interface {
	CreateUser(ctx context.Context, username, displayName, email string) (User, error)
	UpdateUser(ctx context.Context, username, displayName, email string) (User, error)
	DeleteUser(ctx context.Context, username string) error
	GetUser(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, page, limit int) ([]User, int64, error)

	// Directory lookups used by the chat core.
	DisplayName(ctx context.Context, username string) (string, error)
	Email(ctx context.Context, username string) (string, error)
	TouchLastSeen(ctx context.Context, username string) error
}

type userService struct {
	repo UserRepository
	now  func() time.Time
}

func NewUserService(repo UserRepository) UserService {
	return &userService{repo: repo, now: time.Now}
}

func normalize(username, displayName, email string) (string, string, string, error) {
	username = strings.TrimSpace(username)
	displayName = strings.TrimSpace(displayName)
	email = strings.TrimSpace(email)
	if username == "" {
		return "", "", "", errors.New("username is required")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return "", "", "", errors.New("invalid email")
		}
	}
	if displayName == "" {
		displayName = username
	}
	return username, displayName, email, nil
}

func (s *userService) CreateUser(ctx context.Context, username, displayName, email string) (User, error) {
	username, displayName, email, err := normalize(username, displayName, email)
	if err != nil {
		return User{}, err
	}
	return s.repo.CreateUser(ctx, username, displayName, email)
}

func (s *userService) UpdateUser(ctx context.Context, username, displayName, email string) (User, error) {
	username, displayName, email, err := normalize(username, displayName, email)
	if err != nil {
		return User{}, err
	}
	return s.repo.UpdateUser(ctx, username, displayName, email)
}

func (s *userService) DeleteUser(ctx context.Context, username string) error {
	return s.repo.DeleteUser(ctx, strings.TrimSpace(username))
}

func (s *userService) GetUser(ctx context.Context, username string) (User, error) {
	return s.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
}

func (s *userService) ListUsers(ctx context.Context, page, limit int) ([]User, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	offset := (page - 1) * limit
	return s.repo.ListUsers(ctx, limit, offset)
}

func (s *userService) DisplayName(ctx context.Context, username string) (string, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return u.DisplayName, nil
}

func (s *userService) Email(ctx context.Context, username string) (string, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

// TouchLastSeen records activity. Users that are not in the directory are
// ignored; the chat core does not require registration.
func (s *userService) TouchLastSeen(ctx context.Context, username string) error {
	err := s.repo.UpdateLastActive(ctx, username, s.now().UTC())
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	return err
}
