package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	domainerrors "github.com/tagvoteapp/tagvote-server/internal/errors"
	"github.com/tagvoteapp/tagvote-server/internal/id"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

// UserService resolves callers and manages accounts.
type UserService struct {
	store store.Store
}

// NewUserService creates a new user service.
func NewUserService(s store.Store) *UserService {
	return &UserService{store: s}
}

// ResolveCaller loads the account behind a verified token. Moderator status is
// read from the store on every call so revocation takes effect immediately.
func (s *UserService) ResolveCaller(ctx context.Context, userID string) (*domain.Caller, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainerrors.Unauthorized("account no longer exists")
	}
	if err != nil {
		return nil, mapStoreError(err, nil)
	}
	return domain.CallerFor(u), nil
}

// CreateUser registers a new account with a generated id.
func (s *UserService) CreateUser(ctx context.Context, displayName string, moderator bool) (*domain.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, domainerrors.Validation("display name is required")
	}

	userID, err := id.Generate(id.PrefixUser)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "generate user id")
	}

	u := &domain.User{
		ID:          userID,
		DisplayName: displayName,
		IsModerator: moderator,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, mapStoreError(err, nil)
	}
	return u, nil
}

// ListUsers returns every account in creation order.
func (s *UserService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, mapStoreError(err, nil)
	}
	return users, nil
}
