package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	domainerrors "github.com/tagvoteapp/tagvote-server/internal/errors"
	"github.com/tagvoteapp/tagvote-server/internal/service"
)

func (s *Server) registerVoteRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listEntityTags",
		Method:      http.MethodGet,
		Path:        "/api/v1/entities/{type}/{id}/tags",
		Summary:     "List entity tags",
		Description: "Returns the tags on an entity with scores and the caller's vote",
		Tags:        []string{"Votes"},
	}, s.handleListEntityTags)

	huma.Register(s.api, huma.Operation{
		OperationID: "castVote",
		Method:      http.MethodPut,
		Path:        "/api/v1/entities/{type}/{id}/tags/{tagId}/vote",
		Summary:     "Cast vote",
		Description: "Records the caller's +1 or -1 vote; repeating the same value is a no-op",
		Tags:        []string{"Votes"},
		Security:    bearer,
		Middlewares: huma.Middlewares{s.voteRateLimit(s.opts.VoteLimiter)},
	}, s.handleCastVote)

	huma.Register(s.api, huma.Operation{
		OperationID: "removeVote",
		Method:      http.MethodDelete,
		Path:        "/api/v1/entities/{type}/{id}/tags/{tagId}/vote",
		Summary:     "Remove vote",
		Description: "Withdraws the caller's vote; removing a missing vote is a no-op",
		Tags:        []string{"Votes"},
		Security:    bearer,
		Middlewares: huma.Middlewares{s.voteRateLimit(s.opts.VoteLimiter)},
	}, s.handleRemoveVote)

	huma.Register(s.api, huma.Operation{
		OperationID: "castVotes",
		Method:      http.MethodPut,
		Path:        "/api/v1/entities/{type}/{id}/votes",
		Summary:     "Cast votes",
		Description: "Applies one vote value to several tags of an entity in a single transaction",
		Tags:        []string{"Votes"},
		Security:    bearer,
		Middlewares: huma.Middlewares{s.voteRateLimit(s.opts.VoteLimiter)},
	}, s.handleCastVotes)

	huma.Register(s.api, huma.Operation{
		OperationID: "removeVotes",
		Method:      http.MethodDelete,
		Path:        "/api/v1/entities/{type}/{id}/votes",
		Summary:     "Remove votes",
		Description: "Withdraws the caller's votes on several tags of an entity in a single transaction",
		Tags:        []string{"Votes"},
		Security:    bearer,
		Middlewares: huma.Middlewares{s.voteRateLimit(s.opts.VoteLimiter)},
	}, s.handleRemoveVotes)
}

// === DTOs ===

// EntityPath identifies an entity in the URL.
type EntityPath struct {
	Type string `path:"type" doc:"Entity type: model, image, or post"`
	ID   int64  `path:"id" doc:"Entity ID"`
}

// ref converts the path into a domain reference.
func (p EntityPath) ref() (domain.EntityRef, error) {
	t, err := domain.ParseEntityType(p.Type)
	if err != nil {
		return domain.EntityRef{}, domainerrors.Validation(err.Error())
	}
	return domain.EntityRef{Type: t, ID: p.ID}, nil
}

// ListEntityTagsInput contains parameters for listing an entity's tags.
type ListEntityTagsInput struct {
	EntityPath
	IncludeDisabled bool `query:"include_disabled" doc:"Include disabled associations (moderator only)"`
}

// EntityTagsResponse lists the votable tags of an entity.
type EntityTagsResponse struct {
	Tags []domain.VotableTag `json:"tags" doc:"Tags ordered by score descending, then name"`
}

// EntityTagsOutput wraps the entity tags for Huma.
type EntityTagsOutput struct {
	Body EntityTagsResponse
}

// CastVoteRequest is the request body for casting a vote.
type CastVoteRequest struct {
	Value int `json:"value" doc:"+1 or -1"`
}

// CastVoteInput wraps the cast vote request for Huma.
type CastVoteInput struct {
	EntityPath
	TagID int64 `path:"tagId" doc:"Tag ID"`
	Body  CastVoteRequest
}

// RemoveVoteInput contains parameters for removing a vote.
type RemoveVoteInput struct {
	EntityPath
	TagID int64 `path:"tagId" doc:"Tag ID"`
}

// CastVotesRequest is the request body for voting on several tags at once.
type CastVotesRequest struct {
	TagIDs []int64 `json:"tag_ids" doc:"Tags to vote on, at most 50"`
	Value  int     `json:"value" doc:"+1 or -1"`
}

// CastVotesInput wraps the batch vote request for Huma.
type CastVotesInput struct {
	EntityPath
	Body CastVotesRequest
}

// RemoveVotesRequest is the request body for withdrawing several votes.
type RemoveVotesRequest struct {
	TagIDs []int64 `json:"tag_ids" doc:"Tags whose votes are withdrawn, at most 50"`
}

// RemoveVotesInput wraps the batch removal request for Huma.
type RemoveVotesInput struct {
	EntityPath
	Body RemoveVotesRequest
}

// VotesResponse lists per-tag results in request order.
type VotesResponse struct {
	Results []*service.VoteResult `json:"results"`
}

// VotesOutput wraps batch vote results for Huma.
type VotesOutput struct {
	Body VotesResponse
}

// VoteOutput wraps the vote result for Huma.
type VoteOutput struct {
	Body *service.VoteResult
}

// === Handlers ===

func (s *Server) handleListEntityTags(ctx context.Context, input *ListEntityTagsInput) (*EntityTagsOutput, error) {
	entity, err := input.ref()
	if err != nil {
		return nil, err
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	tags, err := s.services.Votes.ListVotableTags(ctx, caller, entity, input.IncludeDisabled)
	if err != nil {
		return nil, err
	}

	return &EntityTagsOutput{Body: EntityTagsResponse{Tags: nonNil(tags)}}, nil
}

func (s *Server) handleCastVote(ctx context.Context, input *CastVoteInput) (*VoteOutput, error) {
	entity, err := input.ref()
	if err != nil {
		return nil, err
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.services.Votes.CastVote(ctx, caller, entity, input.TagID, input.Body.Value)
	if err != nil {
		return nil, err
	}

	return &VoteOutput{Body: res}, nil
}

func (s *Server) handleRemoveVote(ctx context.Context, input *RemoveVoteInput) (*VoteOutput, error) {
	entity, err := input.ref()
	if err != nil {
		return nil, err
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.services.Votes.RemoveVote(ctx, caller, entity, input.TagID)
	if err != nil {
		return nil, err
	}

	return &VoteOutput{Body: res}, nil
}

func (s *Server) handleCastVotes(ctx context.Context, input *CastVotesInput) (*VotesOutput, error) {
	entity, err := input.ref()
	if err != nil {
		return nil, err
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	results, err := s.services.Votes.CastVotes(ctx, caller, entity, input.Body.TagIDs, input.Body.Value)
	if err != nil {
		return nil, err
	}

	return &VotesOutput{Body: VotesResponse{Results: results}}, nil
}

func (s *Server) handleRemoveVotes(ctx context.Context, input *RemoveVotesInput) (*VotesOutput, error) {
	entity, err := input.ref()
	if err != nil {
		return nil, err
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	results, err := s.services.Votes.RemoveVotes(ctx, caller, entity, input.Body.TagIDs)
	if err != nil {
		return nil, err
	}

	return &VotesOutput{Body: VotesResponse{Results: results}}, nil
}
