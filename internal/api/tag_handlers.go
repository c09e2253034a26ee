package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	domainerrors "github.com/tagvoteapp/tagvote-server/internal/errors"
	"github.com/tagvoteapp/tagvote-server/internal/search"
	"github.com/tagvoteapp/tagvote-server/internal/service"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

func (s *Server) registerTagRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listTags",
		Method:      http.MethodGet,
		Path:        "/api/v1/tags",
		Summary:     "List tags",
		Description: "Returns tags ordered by name with active association counts",
		Tags:        []string{"Tags"},
	}, s.handleListTags)

	huma.Register(s.api, huma.Operation{
		OperationID: "trendingTags",
		Method:      http.MethodGet,
		Path:        "/api/v1/tags/trending",
		Summary:     "Trending tags",
		Description: "Returns the tags with the most active associations",
		Tags:        []string{"Tags"},
	}, s.handleTrendingTags)

	huma.Register(s.api, huma.Operation{
		OperationID: "searchTags",
		Method:      http.MethodGet,
		Path:        "/api/v1/tags/search",
		Summary:     "Search tags",
		Description: "Autocomplete suggestions for a partial tag name",
		Tags:        []string{"Tags"},
	}, s.handleSearchTags)

	huma.Register(s.api, huma.Operation{
		OperationID: "getTagByName",
		Method:      http.MethodGet,
		Path:        "/api/v1/tags/by-name/{name}",
		Summary:     "Get tag by name",
		Description: "Returns a tag, looked up by its normalized name, with association counts",
		Tags:        []string{"Tags"},
	}, s.handleGetTagByName)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteTag",
		Method:      http.MethodDelete,
		Path:        "/api/v1/tags/{id}",
		Summary:     "Delete tag",
		Description: "Deletes a tag with all its associations and votes (moderator only)",
		Tags:        []string{"Tags"},
		Security:    bearer,
	}, s.handleDeleteTag)

	huma.Register(s.api, huma.Operation{
		OperationID: "attachTags",
		Method:      http.MethodPost,
		Path:        "/api/v1/tags/attach",
		Summary:     "Attach tags",
		Description: "Attaches tags, by name or id, to a set of entities of one type",
		Tags:        []string{"Tags"},
		Security:    bearer,
	}, s.handleAttachTags)
}

// === DTOs ===

// ListTagsInput contains parameters for listing tags.
type ListTagsInput struct {
	Prefix     string `query:"prefix" doc:"Only tags whose normalized name starts with this"`
	EntityType string `query:"entity_type" doc:"Only tags used on this entity type (model, image, post)"`
	Limit      int    `query:"limit" doc:"Page size (default 50, max 500)"`
	Cursor     string `query:"cursor" doc:"Cursor from the previous page"`
}

// TagPageResponse is one page of tags.
type TagPageResponse struct {
	Tags       []domain.TagWithCounts `json:"tags" doc:"Tags on this page"`
	NextCursor string                 `json:"next_cursor,omitempty" doc:"Cursor for the next page"`
	HasMore    bool                   `json:"has_more" doc:"Whether more pages exist"`
}

// TagPageOutput wraps the tag page for Huma.
type TagPageOutput struct {
	Body TagPageResponse
}

// TrendingTagsInput contains parameters for trending tags.
type TrendingTagsInput struct {
	Limit int `query:"limit" doc:"Number of tags (default 20, max 100)"`
}

// TagListResponse contains a list of tags with counts.
type TagListResponse struct {
	Tags []domain.TagWithCounts `json:"tags" doc:"Tags with counts"`
}

// TagListOutput wraps the tag list for Huma.
type TagListOutput struct {
	Body TagListResponse
}

// SearchTagsInput contains parameters for tag search.
type SearchTagsInput struct {
	Query string `query:"q" required:"true" doc:"Partial tag name"`
	Limit int    `query:"limit" doc:"Maximum suggestions (default 20, max 100)"`
}

// SearchTagsResponse contains autocomplete hits.
type SearchTagsResponse struct {
	Hits []search.Hit `json:"hits" doc:"Matching tags, best first"`
}

// SearchTagsOutput wraps the search response for Huma.
type SearchTagsOutput struct {
	Body SearchTagsResponse
}

// GetTagByNameInput contains parameters for getting a tag.
type GetTagByNameInput struct {
	Name string `path:"name" doc:"Tag name, normalized before lookup"`
}

// TagOutput wraps one tag for Huma.
type TagOutput struct {
	Body domain.TagWithCounts
}

// DeleteTagInput contains parameters for deleting a tag.
type DeleteTagInput struct {
	ID int64 `path:"id" doc:"Tag ID"`
}

// AttachTagsRequest is the request body for attaching tags.
type AttachTagsRequest struct {
	EntityType string   `json:"entity_type" doc:"model, image, or post"`
	EntityIDs  []int64  `json:"entity_ids" doc:"Entities to tag"`
	TagNames   []string `json:"tag_names,omitempty" required:"false" doc:"Tags by name; created when missing"`
	TagIDs     []int64  `json:"tag_ids,omitempty" required:"false" doc:"Existing tags by id"`
}

// AttachTagsInput wraps the attach request for Huma.
type AttachTagsInput struct {
	Body AttachTagsRequest
}

// AttachTagsOutput wraps the attach result for Huma.
type AttachTagsOutput struct {
	Body *service.AttachResult
}

// MessageResponse is the response body for operations without a payload.
type MessageResponse struct {
	Message string `json:"message" doc:"Success message"`
}

// MessageOutput wraps the message response for Huma.
type MessageOutput struct {
	Body MessageResponse
}

// === Handlers ===

func (s *Server) handleListTags(ctx context.Context, input *ListTagsInput) (*TagPageOutput, error) {
	q := store.TagQuery{
		Prefix:           input.Prefix,
		PaginationParams: store.PaginationParams{Limit: input.Limit, Cursor: input.Cursor},
	}
	if input.EntityType != "" {
		t, err := domain.ParseEntityType(input.EntityType)
		if err != nil {
			return nil, domainerrors.Validation(err.Error())
		}
		q.EntityType = &t
	}

	page, err := s.services.Tags.ListTags(ctx, q)
	if err != nil {
		return nil, err
	}

	return &TagPageOutput{Body: TagPageResponse{
		Tags:       nonNil(page.Items),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}}, nil
}

func (s *Server) handleTrendingTags(ctx context.Context, input *TrendingTagsInput) (*TagListOutput, error) {
	tags, err := s.services.Tags.TrendingTags(ctx, input.Limit)
	if err != nil {
		return nil, err
	}
	return &TagListOutput{Body: TagListResponse{Tags: nonNil(tags)}}, nil
}

func (s *Server) handleSearchTags(ctx context.Context, input *SearchTagsInput) (*SearchTagsOutput, error) {
	hits, err := s.services.Tags.SearchTags(ctx, input.Query, input.Limit)
	if err != nil {
		return nil, err
	}
	return &SearchTagsOutput{Body: SearchTagsResponse{Hits: nonNil(hits)}}, nil
}

func (s *Server) handleGetTagByName(ctx context.Context, input *GetTagByNameInput) (*TagOutput, error) {
	t, err := s.services.Tags.GetTagByName(ctx, input.Name)
	if err != nil {
		return nil, err
	}
	return &TagOutput{Body: *t}, nil
}

func (s *Server) handleDeleteTag(ctx context.Context, input *DeleteTagInput) (*MessageOutput, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.services.Tags.DeleteTag(ctx, caller, input.ID); err != nil {
		return nil, err
	}

	return &MessageOutput{Body: MessageResponse{Message: "Tag deleted"}}, nil
}

func (s *Server) handleAttachTags(ctx context.Context, input *AttachTagsInput) (*AttachTagsOutput, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.services.Tags.AttachTags(ctx, caller, service.AttachRequest{
		EntityType: domain.EntityType(input.Body.EntityType),
		EntityIDs:  input.Body.EntityIDs,
		TagNames:   input.Body.TagNames,
		TagIDs:     input.Body.TagIDs,
	})
	if err != nil {
		return nil, err
	}

	return &AttachTagsOutput{Body: res}, nil
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
