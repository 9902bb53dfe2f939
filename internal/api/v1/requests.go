package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"botmaster/internal/agent"
	"botmaster/internal/domain"
)

type ProcessRequestInput struct {
	Body struct {
		Text    string `json:"text" minLength:"1" doc:"Task description to classify and dispatch"`
		Project string `json:"project,omitempty" doc:"Optional project key hint"`
	}
}

type ProcessRequestOutput struct {
	Body *agent.Result
}

type GetStatusInput struct{}

type GetStatusOutput struct {
	Body *agent.Status
}

func RegisterRequestRoutes(api huma.API, orchestrator AgentOrchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "process-request",
		Method:      http.MethodPost,
		Path:        "/requests",
		Summary:     "Classify a task and dispatch it to an agent",
		Tags:        []string{"Requests"},
	}, func(ctx context.Context, input *ProcessRequestInput) (*ProcessRequestOutput, error) {
		result, err := orchestrator.ProcessRequest(ctx, input.Body.Text, input.Body.Project)
		if err != nil {
			if errors.Is(err, domain.ErrSpawn) {
				return nil, huma.Error502BadGateway("agent process failed to start", err)
			}
			if errors.Is(err, domain.ErrConflict) {
				return nil, huma.Error409Conflict("an active session for this project and agent already exists")
			}
			return nil, huma.Error500InternalServerError("failed to process request", err)
		}

		return &ProcessRequestOutput{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Sessions, queue depth and recent decisions",
		Tags:        []string{"Requests"},
	}, func(ctx context.Context, _ *GetStatusInput) (*GetStatusOutput, error) {
		status, err := orchestrator.GetStatus(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get status", err)
		}

		return &GetStatusOutput{Body: status}, nil
	})
}
