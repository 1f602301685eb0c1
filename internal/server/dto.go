package server

import (
	"proofgate/internal/domain"
	"proofgate/internal/explain"
	"proofgate/internal/stagnation"
)

// Request payloads

type CreateRoadmapRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

type CreateTaskRequest struct {
	Day           int      `json:"day,omitempty"`
	Objective     string   `json:"objective"`
	ProofType     string   `json:"proof_type" enum:"repository,quiz,file,url,none"`
	ValidatorType string   `json:"validator_type" enum:"auto_repository,auto_quiz,manual,none"`
	Rules         *string  `json:"rules,omitempty"`
	MinPassScore  *float64 `json:"min_pass_score,omitempty"`
	MaxAttempts   *int     `json:"max_attempts,omitempty"`
	IsCore        bool     `json:"is_core,omitempty"`
	Weight        int      `json:"weight,omitempty"`
	DueDate       *string  `json:"due_date,omitempty" format:"date-time"`
}

type SubmitAttemptRequest struct {
	UserID    string `json:"user_id"`
	Payload   string `json:"payload"`
	HostLogin string `json:"host_login,omitempty"`
}

type InvalidateCompletionRequest struct {
	Reason string `json:"reason"`
}

type ReviewDecisionRequest struct {
	ReviewerID string   `json:"reviewer_id"`
	Decision   string   `json:"decision" enum:"approved,rejected,needs_revision"`
	Score      *float64 `json:"score,omitempty"`
	Feedback   string   `json:"feedback,omitempty"`
}

type ResolveRemediationRequest struct {
	Comment string `json:"comment,omitempty"`
}

type GrantOverrideRequest struct {
	UserID        string  `json:"user_id"`
	RoadmapID     string  `json:"roadmap_id"`
	Justification string  `json:"justification"`
	GrantedBy     string  `json:"granted_by"`
	ExpiresAt     *string `json:"expires_at,omitempty" format:"date-time"`
}

type RevokeOverrideRequest struct {
	RevokedBy string `json:"revoked_by"`
	Reason    string `json:"reason"`
}

type CompileResumeRequest struct {
	TemplateID string `json:"template_id,omitempty"`
}

// Response payloads

type explainBody struct {
	AttemptID   string              `json:"attempt_id"`
	Explanation explain.Explanation `json:"explanation"`
}

type stagnationBody struct {
	Report  stagnation.Report    `json:"report"`
	Created []domain.Remediation `json:"created_remediations,omitempty"`
}
