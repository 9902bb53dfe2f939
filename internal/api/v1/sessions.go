package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"botmaster/internal/domain"
)

type ListSessionsInput struct{}

type ListSessionsOutput struct {
	Body []*domain.Session
}

type GetSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Agent session ID"`
}

type GetSessionOutput struct {
	Body *domain.Session
}

type GetSessionOutputLogInput struct {
	ID uuid.UUID `path:"id" doc:"Agent session ID"`
}

type GetSessionOutputLogOutput struct {
	Body struct {
		SessionID uuid.UUID `json:"session_id"`
		Output    string    `json:"output"`
	}
}

type SendToSessionInput struct {
	ID   uuid.UUID `path:"id" doc:"Agent session ID"`
	Body struct {
		Text string `json:"text" minLength:"1" doc:"Text to deliver to the agent's stdin"`
	}
}

type SendToSessionOutput struct {
	Body *domain.Message
}

type StopSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Agent session ID"`
}

type StopSessionOutput struct {
	Body *domain.Session
}

func RegisterSessionRoutes(api huma.API, orchestrator AgentOrchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List active agent sessions",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, _ *ListSessionsInput) (*ListSessionsOutput, error) {
		status, err := orchestrator.GetStatus(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list sessions", err)
		}

		return &ListSessionsOutput{Body: status.ActiveSessions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get an agent session by ID",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		session, err := orchestrator.Session(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}

		return &GetSessionOutput{Body: session}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session-output",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/output",
		Summary:     "Get the full captured output of a session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetSessionOutputLogInput) (*GetSessionOutputLogOutput, error) {
		out, err := orchestrator.SessionOutput(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session output", err)
		}

		resp := &GetSessionOutputLogOutput{}
		resp.Body.SessionID = input.ID
		resp.Body.Output = out
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-to-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/messages",
		Summary:     "Queue text for delivery to a running session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *SendToSessionInput) (*SendToSessionOutput, error) {
		msg, err := orchestrator.SendTo(ctx, input.ID, input.Body.Text)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to queue message", err)
		}

		return &SendToSessionOutput{Body: msg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/stop",
		Summary:     "Stop a running agent session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *StopSessionInput) (*StopSessionOutput, error) {
		err := orchestrator.Stop(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to stop session", err)
		}

		session, err := orchestrator.Session(ctx, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get stopped session", err)
		}

		return &StopSessionOutput{Body: session}, nil
	})
}
