package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"botmaster/internal/domain"
)

type ListDecisionsInput struct {
	Project string `query:"project" doc:"Filter by project name"`
	Type    string `query:"type" doc:"Filter by decision type"`
	Limit   int    `query:"limit" minimum:"1" maximum:"200" default:"50" doc:"Max results"`
}

type ListDecisionsOutput struct {
	Body []*domain.Decision
}

type DecisionFeedbackInput struct {
	ID   int64 `path:"id" doc:"Decision ID"`
	Body struct {
		Outcome  string `json:"outcome" enum:"success,partial,failed" doc:"Terminal outcome"`
		Feedback string `json:"feedback,omitempty" doc:"Free-form operator feedback"`
	}
}

type DecisionFeedbackOutput struct {
	Body struct {
		ID int64 `json:"id"`
	}
}

func RegisterDecisionRoutes(api huma.API, store DataStore, orchestrator AgentOrchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "List orchestration decisions, newest first",
		Tags:        []string{"Decisions"},
	}, func(ctx context.Context, input *ListDecisionsInput) (*ListDecisionsOutput, error) {
		decisions, err := store.Decisions().List(ctx, input.Project, domain.DecisionType(input.Type), input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list decisions", err)
		}

		return &ListDecisionsOutput{Body: decisions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decision-feedback",
		Method:      http.MethodPost,
		Path:        "/decisions/{id}/feedback",
		Summary:     "Record operator feedback on a decision",
		Tags:        []string{"Decisions"},
	}, func(ctx context.Context, input *DecisionFeedbackInput) (*DecisionFeedbackOutput, error) {
		err := orchestrator.Feedback(ctx, input.ID, domain.DecisionOutcome(input.Body.Outcome), input.Body.Feedback)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("decision not found")
			}
			if errors.Is(err, domain.ErrState) {
				return nil, huma.Error409Conflict("decision outcome is already settled")
			}
			return nil, huma.Error500InternalServerError("failed to record feedback", err)
		}

		resp := &DecisionFeedbackOutput{}
		resp.Body.ID = input.ID
		return resp, nil
	})
}
