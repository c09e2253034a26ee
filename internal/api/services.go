package api

import (
	"github.com/tagvoteapp/tagvote-server/internal/auth"
	"github.com/tagvoteapp/tagvote-server/internal/service"
)

// Services groups all business logic services used by the API server.
type Services struct {
	Votes      *service.VoteService
	Moderation *service.ModerationService
	Tags       *service.TagService
	Users      *service.UserService
	Tokens     *auth.TokenService
}

// IndexStats reports the size of the tag search index for the health check.
type IndexStats interface {
	Count() (uint64, error)
}
