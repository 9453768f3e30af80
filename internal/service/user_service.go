package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"go.uber.org/zap"
)

// UserStore is implemented by repository.UserRepository and the in-memory store
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
	ListAvailableTutors(ctx context.Context) ([]*model.User, error)
}

type UserService struct {
	userRepo UserStore
	logger   *zap.Logger
}

func NewUserService(userRepo UserStore, logger *zap.Logger) *UserService {
	return &UserService{
		userRepo: userRepo,
		logger:   logger,
	}
}

func displayName(username, firstName, lastName string) string {
	name := strings.TrimSpace(firstName + " " + lastName)
	if name == "" {
		name = username
	}
	return name
}

// RegisterTelegramUser регистрирует или обновляет пользователя
func (s *UserService) RegisterTelegramUser(ctx context.Context, telegramID int64, username, firstName, lastName string) (*model.User, error) {
	existingUser, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	name := displayName(username, firstName, lastName)

	if existingUser != nil {
		existingUser.Username = username
		existingUser.DisplayName = name

		if err := s.userRepo.Update(ctx, existingUser); err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}

		s.logger.Info("User updated",
			zap.Int64("telegram_id", telegramID),
			zap.String("username", username),
		)

		return existingUser, nil
	}

	user := &model.User{
		TelegramID:  &telegramID,
		Username:    username,
		DisplayName: name,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("New user registered",
		zap.Int64("user_id", user.ID),
		zap.Int64("telegram_id", telegramID),
		zap.String("username", username),
	)

	return user, nil
}

type RegisterInput struct {
	Username    string `json:"username" validate:"required,max=64"`
	DisplayName string `json:"display_name" validate:"max=128"`
}

// Register creates a user without a Telegram account (web clients)
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*model.User, error) {
	input.Username = strings.TrimSpace(input.Username)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	user := &model.User{
		Username:    input.Username,
		DisplayName: displayName(input.Username, input.DisplayName, ""),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("New user registered",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
	)

	return user, nil
}

// GetByTelegramID returns nil, nil when the user is unknown
func (s *UserService) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.userRepo.GetByTelegramID(ctx, telegramID)
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// BecomeTutor делает пользователя учителем
func (s *UserService) BecomeTutor(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, &NotFoundError{What: fmt.Sprintf("user %d", userID)}
	}
	if user.IsTutor {
		return user, nil
	}

	user.IsTutor = true
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.logger.Info("User became tutor",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
	)

	return user, nil
}

// ListAvailableTutors returns tutors that are not in a session
func (s *UserService) ListAvailableTutors(ctx context.Context) ([]*model.User, error) {
	tutors, err := s.userRepo.ListAvailableTutors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available tutors: %w", err)
	}
	return tutors, nil
}
