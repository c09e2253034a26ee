package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &domain.User{ID: "user-1", DisplayName: "Mod", IsModerator: true, CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := s.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.DisplayName != "Mod" || !got.IsModerator {
		t.Errorf("unexpected user: %+v", got)
	}

	if err := s.CreateUser(ctx, u); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestListUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"user-a", "user-b"} {
		u := &domain.User{ID: id, DisplayName: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 || users[0].ID != "user-a" || users[1].ID != "user-b" {
		t.Errorf("unexpected users: %+v", users)
	}
}
