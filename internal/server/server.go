// Package server exposes the proofgate engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proofgate/internal/domain"
	"proofgate/internal/eligibility"
	"proofgate/internal/engine"
	"proofgate/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	// Metrics enables the /metrics endpoint on the root router.
	Metrics bool
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"duplicate_proof"`
	Message string         `json:"message" example:"identical proof has already been submitted"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the proofgate API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	if cfg.Metrics {
		router.Handle("/metrics", promhttp.Handler())
	}
	hcfg := huma.DefaultConfig("Proofgate API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRoadmaps(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerAttempts(group, cfg.Engine)
	registerReviews(group, cfg.Engine)
	registerEligibility(group, cfg.Engine)
	registerStagnation(group, cfg.Engine)
	registerOverrides(group, cfg.Engine)
	registerResumes(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine faults onto the error envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var dup engine.DuplicateProofError
	if errors.As(err, &dup) {
		return newAPIError(http.StatusConflict, "duplicate_proof", err.Error(), map[string]any{"proof_hash": dup.ProofHash})
	}
	var limit engine.AttemptLimitError
	if errors.As(err, &limit) {
		return newAPIError(http.StatusUnprocessableEntity, "attempt_limit_reached", err.Error(), map[string]any{"max_attempts": limit.MaxAttempts})
	}
	var preval engine.PrevalidationError
	if errors.As(err, &preval) {
		return newAPIError(http.StatusUnprocessableEntity, "prevalidation_failed", err.Error(), nil)
	}
	var imm engine.ImmutabilityError
	if errors.As(err, &imm) {
		return newAPIError(http.StatusConflict, "immutable", err.Error(), map[string]any{"kind": imm.Kind, "id": imm.ID})
	}
	var decided engine.AlreadyDecidedError
	if errors.As(err, &decided) {
		return newAPIError(http.StatusConflict, "already_decided", err.Error(), map[string]any{"kind": decided.Kind, "id": decided.ID})
	}
	var empty engine.NoCompletedTasksError
	if errors.As(err, &empty) {
		return newAPIError(http.StatusUnprocessableEntity, "no_completed_tasks", err.Error(), nil)
	}
	var ext engine.ExternalServiceError
	if errors.As(err, &ext) {
		return newAPIError(http.StatusBadGateway, "external_service_unavailable", err.Error(), map[string]any{"service": ext.Service})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not eligible"):
		return newAPIError(http.StatusUnprocessableEntity, "not_eligible", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "external_service_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func actorID(header string) string {
	if header == "" {
		return "api"
	}
	return header
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerRoadmaps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-roadmap",
		Method:        http.MethodPost,
		Path:          "/roadmaps",
		Summary:       "Create roadmap",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Actor string               `header:"X-Actor-Id"`
		Body  CreateRoadmapRequest `json:"body"`
	}) (*struct {
		Body domain.Roadmap `json:"body"`
	}, error) {
		rm, err := e.CreateRoadmap(ctx, input.Body.UserID, input.Body.Title, actorID(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Roadmap `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roadmaps",
		Method:      http.MethodGet,
		Path:        "/roadmaps",
		Summary:     "List a user's roadmaps",
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id" required:"true"`
	}) (*struct {
		Body []domain.Roadmap `json:"body"`
	}, error) {
		list, err := e.ListRoadmaps(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Roadmap `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-roadmap",
		Method:      http.MethodGet,
		Path:        "/roadmaps/{roadmap_id}",
		Summary:     "Get roadmap",
	}, func(ctx context.Context, input *struct {
		RoadmapID string `path:"roadmap_id"`
	}) (*struct {
		Body domain.Roadmap `json:"body"`
	}, error) {
		rm, err := e.GetRoadmap(ctx, input.RoadmapID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Roadmap `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-roadmap",
		Method:      http.MethodDelete,
		Path:        "/roadmaps/{roadmap_id}",
		Summary:     "Delete roadmap and everything under it",
	}, func(ctx context.Context, input *struct {
		RoadmapID string `path:"roadmap_id"`
		Actor     string `header:"X-Actor-Id"`
	}) (*struct{}, error) {
		if err := e.DeleteRoadmap(ctx, input.RoadmapID, actorID(input.Actor)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/roadmaps/{roadmap_id}/tasks",
		Summary:       "Create task contract",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		RoadmapID string            `path:"roadmap_id"`
		Actor     string            `header:"X-Actor-Id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		opts := engine.TaskCreateOptions{
			RoadmapID:     input.RoadmapID,
			Day:           input.Body.Day,
			Objective:     input.Body.Objective,
			ProofType:     input.Body.ProofType,
			ValidatorType: input.Body.ValidatorType,
			MaxAttempts:   input.Body.MaxAttempts,
			IsCore:        input.Body.IsCore,
			Weight:        input.Body.Weight,
			ActorID:       actorID(input.Actor),
		}
		if input.Body.Rules != nil {
			opts.RulesJSON = *input.Body.Rules
		}
		if input.Body.MinPassScore != nil {
			opts.MinPassScore = *input.Body.MinPassScore
		}
		if input.Body.DueDate != nil {
			opts.DueDate = *input.Body.DueDate
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/roadmaps/{roadmap_id}/tasks",
		Summary:     "List roadmap tasks",
	}, func(ctx context.Context, input *struct {
		RoadmapID string `path:"roadmap_id"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		list, err := e.ListTasks(ctx, input.RoadmapID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "invalidate-completion",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/invalidate",
		Summary:     "Invalidate a task completion",
	}, func(ctx context.Context, input *struct {
		TaskID string                      `path:"task_id"`
		Actor  string                      `header:"X-Actor-Id"`
		Body   InvalidateCompletionRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.InvalidateCompletion(ctx, input.TaskID, input.Body.Reason, actorID(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerAttempts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-attempt",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/attempts",
		Summary:       "Submit proof for a task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Actor  string               `header:"X-Actor-Id"`
		Body   SubmitAttemptRequest `json:"body"`
	}) (*struct {
		Body engine.SubmitResult `json:"body"`
	}, error) {
		res, err := e.SubmitAttempt(ctx, engine.SubmitOptions{
			TaskID:      input.TaskID,
			UserID:      input.Body.UserID,
			PayloadJSON: input.Body.Payload,
			HostLogin:   input.Body.HostLogin,
			ActorID:     actorID(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SubmitResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-attempts",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/attempts",
		Summary:     "List a user's attempts for a task",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		UserID string `query:"user_id" required:"true"`
	}) (*struct {
		Body []domain.Attempt `json:"body"`
	}, error) {
		list, err := e.ListAttempts(ctx, input.TaskID, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Attempt `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "explain-attempt",
		Method:      http.MethodGet,
		Path:        "/attempts/{attempt_id}/explanation",
		Summary:     "Explain a validation outcome",
	}, func(ctx context.Context, input *struct {
		AttemptID string `path:"attempt_id"`
	}) (*struct {
		Body explainBody `json:"body"`
	}, error) {
		ex, err := e.ExplainAttempt(ctx, input.AttemptID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body explainBody `json:"body"`
		}{Body: explainBody{AttemptID: input.AttemptID, Explanation: ex}}, nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-pending-reviews",
		Method:      http.MethodGet,
		Path:        "/reviews/pending",
		Summary:     "List pending reviews, most urgent first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.PendingReview `json:"body"`
	}, error) {
		list, err := e.ListPendingReviews(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.PendingReview `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-review",
		Method:      http.MethodPost,
		Path:        "/reviews/{review_id}/decision",
		Summary:     "Record a reviewer decision",
	}, func(ctx context.Context, input *struct {
		ReviewID string                `path:"review_id"`
		Actor    string                `header:"X-Actor-Id"`
		Body     ReviewDecisionRequest `json:"body"`
	}) (*struct {
		Body domain.Review `json:"body"`
	}, error) {
		rv, err := e.SubmitDecision(ctx, engine.DecisionOptions{
			ReviewID:   input.ReviewID,
			ReviewerID: input.Body.ReviewerID,
			Decision:   input.Body.Decision,
			Score:      input.Body.Score,
			Feedback:   input.Body.Feedback,
			ActorID:    actorID(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Review `json:"body"`
		}{Body: rv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-reviews",
		Method:      http.MethodPost,
		Path:        "/reviews/sweep",
		Summary:     "Escalate reviews past their SLA",
	}, func(ctx context.Context, input *struct {
		Actor string `header:"X-Actor-Id"`
	}) (*struct {
		Body engine.SweepResult `json:"body"`
	}, error) {
		res, err := e.SweepSLA(ctx, actorID(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SweepResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerEligibility(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate-eligibility",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/eligibility",
		Summary:     "Evaluate resume eligibility",
	}, func(ctx context.Context, input *struct {
		UserID    string `path:"user_id"`
		RoadmapID string `query:"roadmap_id"`
	}) (*struct {
		Body eligibility.Evaluation `json:"body"`
	}, error) {
		ev, err := e.EvaluateEligibility(ctx, input.UserID, input.RoadmapID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body eligibility.Evaluation `json:"body"`
		}{Body: ev}, nil
	})
}

func registerStagnation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "analyze-stagnation",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/stagnation",
		Summary:     "Analyze stagnation and record remediation proposals",
	}, func(ctx context.Context, input *struct {
		UserID    string `path:"user_id"`
		RoadmapID string `query:"roadmap_id"`
		Actor     string `header:"X-Actor-Id"`
	}) (*struct {
		Body stagnationBody `json:"body"`
	}, error) {
		report, created, err := e.AnalyzeStagnation(ctx, input.UserID, input.RoadmapID, actorID(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body stagnationBody `json:"body"`
		}{Body: stagnationBody{Report: report, Created: created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-remediations",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/remediations",
		Summary:     "List remediation proposals",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Status string `query:"status" enum:"suggested,accepted,rejected,auto_applied"`
	}) (*struct {
		Body []domain.Remediation `json:"body"`
	}, error) {
		list, err := e.ListRemediations(ctx, input.UserID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Remediation `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-remediation",
		Method:      http.MethodPost,
		Path:        "/remediations/{remediation_id}/accept",
		Summary:     "Accept and apply a remediation proposal",
	}, func(ctx context.Context, input *struct {
		RemediationID string                    `path:"remediation_id"`
		Actor         string                    `header:"X-Actor-Id"`
		Body          ResolveRemediationRequest `json:"body"`
	}) (*struct {
		Body domain.Remediation `json:"body"`
	}, error) {
		rm, err := e.AcceptRemediation(ctx, input.RemediationID, input.Body.Comment, actorID(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Remediation `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-remediation",
		Method:      http.MethodPost,
		Path:        "/remediations/{remediation_id}/reject",
		Summary:     "Reject a remediation proposal",
	}, func(ctx context.Context, input *struct {
		RemediationID string                    `path:"remediation_id"`
		Actor         string                    `header:"X-Actor-Id"`
		Body          ResolveRemediationRequest `json:"body"`
	}) (*struct {
		Body domain.Remediation `json:"body"`
	}, error) {
		rm, err := e.RejectRemediation(ctx, input.RemediationID, input.Body.Comment, actorID(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Remediation `json:"body"`
		}{Body: rm}, nil
	})
}

func registerOverrides(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "grant-override",
		Method:        http.MethodPost,
		Path:          "/overrides",
		Summary:       "Grant an eligibility override",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body GrantOverrideRequest `json:"body"`
	}) (*struct {
		Body domain.Override `json:"body"`
	}, error) {
		expires := ""
		if input.Body.ExpiresAt != nil {
			expires = *input.Body.ExpiresAt
		}
		ov, err := e.GrantOverride(ctx, input.Body.UserID, input.Body.RoadmapID, input.Body.Justification, input.Body.GrantedBy, expires)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Override `json:"body"`
		}{Body: ov}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-override",
		Method:      http.MethodPost,
		Path:        "/overrides/{override_id}/revoke",
		Summary:     "Revoke an eligibility override",
	}, func(ctx context.Context, input *struct {
		OverrideID string                `path:"override_id"`
		Body       RevokeOverrideRequest `json:"body"`
	}) (*struct {
		Body domain.Override `json:"body"`
	}, error) {
		ov, err := e.RevokeOverride(ctx, input.OverrideID, input.Body.RevokedBy, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Override `json:"body"`
		}{Body: ov}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-overrides",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/overrides",
		Summary:     "List a user's overrides",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body []domain.Override `json:"body"`
	}, error) {
		list, err := e.ListOverrides(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Override `json:"body"`
		}{Body: list}, nil
	})
}

func registerResumes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "compile-resume",
		Method:        http.MethodPost,
		Path:          "/users/{user_id}/roadmaps/{roadmap_id}/resumes",
		Summary:       "Compile a new resume version",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		UserID    string               `path:"user_id"`
		RoadmapID string               `path:"roadmap_id"`
		Actor     string               `header:"X-Actor-Id"`
		Body      CompileResumeRequest `json:"body"`
	}) (*struct {
		Body engine.ResumeDocument `json:"body"`
	}, error) {
		doc, err := e.CompileResume(ctx, input.UserID, input.RoadmapID, input.Body.TemplateID, actorID(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ResumeDocument `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-resume-versions",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/roadmaps/{roadmap_id}/resumes",
		Summary:     "List resume versions",
	}, func(ctx context.Context, input *struct {
		UserID    string `path:"user_id"`
		RoadmapID string `path:"roadmap_id"`
	}) (*struct {
		Body []domain.ResumeVersion `json:"body"`
	}, error) {
		list, err := e.ListResumeVersions(ctx, input.UserID, input.RoadmapID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ResumeVersion `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-latest-resume",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/roadmaps/{roadmap_id}/resumes/latest",
		Summary:     "Get the latest compiled resume",
	}, func(ctx context.Context, input *struct {
		UserID    string `path:"user_id"`
		RoadmapID string `path:"roadmap_id"`
	}) (*struct {
		Body engine.ResumeDocument `json:"body"`
	}, error) {
		doc, err := e.GetResume(ctx, input.UserID, input.RoadmapID, "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ResumeDocument `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-resume",
		Method:      http.MethodGet,
		Path:        "/resumes/{version_id}",
		Summary:     "Get a compiled resume version",
	}, func(ctx context.Context, input *struct {
		VersionID string `path:"version_id"`
	}) (*struct {
		Body engine.ResumeDocument `json:"body"`
	}, error) {
		doc, err := e.GetResume(ctx, "", "", input.VersionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ResumeDocument `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-resume",
		Method:      http.MethodGet,
		Path:        "/resumes/{version_id}/verify",
		Summary:     "Verify every resume entry against the ledger",
	}, func(ctx context.Context, input *struct {
		VersionID string `path:"version_id"`
	}) (*struct {
		Body engine.VerificationReport `json:"body"`
	}, error) {
		report, err := e.VerifyResume(ctx, input.VersionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.VerificationReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		RoadmapID  string `query:"roadmap_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		list, err := e.LatestEvents(ctx, input.Limit, input.RoadmapID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: list}, nil
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Proofgate API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.onload = () => {
        window.ui = SwaggerUIBundle({ url: %q, dom_id: "#swagger-ui" });
      };
    </script>
  </body>
</html>`, specURL)
}
