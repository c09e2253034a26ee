package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
	domainerrors "github.com/tagvoteapp/tagvote-server/internal/errors"
	"github.com/tagvoteapp/tagvote-server/internal/service"
	"github.com/tagvoteapp/tagvote-server/internal/store"
)

func (s *Server) registerModerationRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "moderateAssociation",
		Method:      http.MethodPut,
		Path:        "/api/v1/entities/{type}/{id}/tags/{tagId}/moderation",
		Summary:     "Moderate association",
		Description: "Applies an approve, reject, or release decision to one association",
		Tags:        []string{"Moderation"},
		Security:    bearer,
	}, s.handleModerateAssociation)

	huma.Register(s.api, huma.Operation{
		OperationID: "moderateBatch",
		Method:      http.MethodPost,
		Path:        "/api/v1/moderation",
		Summary:     "Moderate associations",
		Description: "Applies one decision to many associations atomically. Honors Idempotency-Key.",
		Tags:        []string{"Moderation"},
		Security:    bearer,
	}, s.handleModerateBatch)

	huma.Register(s.api, huma.Operation{
		OperationID: "recomputeAssociation",
		Method:      http.MethodPost,
		Path:        "/api/v1/moderation/recompute",
		Summary:     "Recompute association state",
		Description: "Re-applies the current thresholds to one association",
		Tags:        []string{"Moderation"},
		Security:    bearer,
	}, s.handleRecompute)

	huma.Register(s.api, huma.Operation{
		OperationID: "reviewQueue",
		Method:      http.MethodGet,
		Path:        "/api/v1/moderation/queue",
		Summary:     "Review queue",
		Description: "Lists associations waiting for review, newest first",
		Tags:        []string{"Moderation"},
		Security:    bearer,
	}, s.handleReviewQueue)

	huma.Register(s.api, huma.Operation{
		OperationID: "moderationActions",
		Method:      http.MethodGet,
		Path:        "/api/v1/moderation/associations/{id}/actions",
		Summary:     "Moderation history",
		Description: "Returns the audit trail of one association, oldest first",
		Tags:        []string{"Moderation"},
		Security:    bearer,
	}, s.handleModerationActions)
}

// === DTOs ===

// DecisionRequest is the request body for a single decision.
type DecisionRequest struct {
	Decision string `json:"decision" doc:"approve, reject, or release"`
}

// ModerateAssociationInput wraps a single decision for Huma.
type ModerateAssociationInput struct {
	EntityPath
	TagID int64 `path:"tagId" doc:"Tag ID"`
	Body  DecisionRequest
}

// ModerationOutcomeOutput wraps one moderation outcome for Huma.
type ModerationOutcomeOutput struct {
	Body *service.ModerationOutcome
}

// ModerateBatchRequest is the request body for a batch decision.
type ModerateBatchRequest struct {
	AssociationIDs []int64 `json:"association_ids" doc:"Associations to moderate (max 100)"`
	Decision       string  `json:"decision" doc:"approve, reject, or release"`
}

// ModerateBatchInput wraps the batch request for Huma.
type ModerateBatchInput struct {
	IdempotencyKey string `header:"Idempotency-Key" doc:"Replays within the key lifetime return the first result"`
	Body           ModerateBatchRequest
}

// ModerationResultOutput wraps the batch result for Huma.
type ModerationResultOutput struct {
	Body *service.ModerationResult
}

// RecomputeRequest names the association to recompute.
type RecomputeRequest struct {
	EntityType string `json:"entity_type" doc:"model, image, or post"`
	EntityID   int64  `json:"entity_id" doc:"Entity ID"`
	TagID      int64  `json:"tag_id" doc:"Tag ID"`
}

// RecomputeInput wraps the recompute request for Huma.
type RecomputeInput struct {
	Body RecomputeRequest
}

// RecomputeResponse is the association after recomputation.
type RecomputeResponse struct {
	Association *domain.TagAssociation `json:"association" doc:"Association after recomputation"`
	Transition  domain.Transition      `json:"transition" doc:"none, auto_disabled, or auto_approved"`
}

// RecomputeOutput wraps the recompute response for Huma.
type RecomputeOutput struct {
	Body RecomputeResponse
}

// ReviewQueueInput contains pagination for the review queue.
type ReviewQueueInput struct {
	Limit  int    `query:"limit" doc:"Page size (default 50, max 500)"`
	Cursor string `query:"cursor" doc:"Cursor from the previous page"`
}

// ReviewQueueResponse is one page of the review queue.
type ReviewQueueResponse struct {
	Associations []*domain.TagAssociation `json:"associations" doc:"Associations needing review"`
	NextCursor   string                   `json:"next_cursor,omitempty" doc:"Cursor for the next page"`
	HasMore      bool                     `json:"has_more" doc:"Whether more pages exist"`
}

// ReviewQueueOutput wraps the review queue for Huma.
type ReviewQueueOutput struct {
	Body ReviewQueueResponse
}

// ModerationActionsInput identifies the association whose history to list.
type ModerationActionsInput struct {
	ID int64 `path:"id" doc:"Association ID"`
}

// ModerationActionsResponse is an association's audit trail.
type ModerationActionsResponse struct {
	Actions []*domain.ModerationAction `json:"actions" doc:"Decisions, oldest first"`
}

// ModerationActionsOutput wraps the audit trail for Huma.
type ModerationActionsOutput struct {
	Body ModerationActionsResponse
}

// === Handlers ===

func parseDecision(raw string) (domain.Decision, error) {
	d, err := domain.ParseDecision(raw)
	if err != nil {
		return "", domainerrors.Validation(err.Error())
	}
	return d, nil
}

func (s *Server) handleModerateAssociation(ctx context.Context, input *ModerateAssociationInput) (*ModerationOutcomeOutput, error) {
	entity, err := input.ref()
	if err != nil {
		return nil, err
	}
	decision, err := parseDecision(input.Body.Decision)
	if err != nil {
		return nil, err
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	out, err := s.services.Moderation.Moderate(ctx, caller, domain.AssociationKey{Entity: entity, TagID: input.TagID}, decision)
	if err != nil {
		return nil, err
	}

	return &ModerationOutcomeOutput{Body: out}, nil
}

func (s *Server) handleModerateBatch(ctx context.Context, input *ModerateBatchInput) (*ModerationResultOutput, error) {
	decision, err := parseDecision(input.Body.Decision)
	if err != nil {
		return nil, err
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.services.Moderation.ModerateBatch(ctx, caller, input.Body.AssociationIDs, decision, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	return &ModerationResultOutput{Body: res}, nil
}

func (s *Server) handleRecompute(ctx context.Context, input *RecomputeInput) (*RecomputeOutput, error) {
	entity, err := EntityPath{Type: input.Body.EntityType, ID: input.Body.EntityID}.ref()
	if err != nil {
		return nil, err
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	a, transition, err := s.services.Votes.RecomputeAssociationState(ctx, caller, entity, input.Body.TagID)
	if err != nil {
		return nil, err
	}

	return &RecomputeOutput{Body: RecomputeResponse{Association: a, Transition: transition}}, nil
}

func (s *Server) handleReviewQueue(ctx context.Context, input *ReviewQueueInput) (*ReviewQueueOutput, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	page, err := s.services.Moderation.ReviewQueue(ctx, caller, store.PaginationParams{
		Limit:  input.Limit,
		Cursor: input.Cursor,
	})
	if err != nil {
		return nil, err
	}

	return &ReviewQueueOutput{Body: ReviewQueueResponse{
		Associations: nonNil(page.Items),
		NextCursor:   page.NextCursor,
		HasMore:      page.HasMore,
	}}, nil
}

func (s *Server) handleModerationActions(ctx context.Context, input *ModerationActionsInput) (*ModerationActionsOutput, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	actions, err := s.services.Moderation.Actions(ctx, caller, input.ID)
	if err != nil {
		return nil, err
	}

	return &ModerationActionsOutput{Body: ModerationActionsResponse{Actions: nonNil(actions)}}, nil
}
