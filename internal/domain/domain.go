package domain

type Roadmap struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Status    string `json:"status" enum:"active,archived"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID            string  `json:"id"`
	RoadmapID     string  `json:"roadmap_id"`
	Day           int     `json:"day"`
	Objective     string  `json:"objective" validate:"required"`
	ProofType     string  `json:"proof_type" enum:"repository,quiz,file,url,none" validate:"required,oneof=repository quiz file url none"`
	ValidatorType string  `json:"validator_type" enum:"auto_repository,auto_quiz,manual,none" validate:"required,oneof=auto_repository auto_quiz manual none"`
	RulesJSON     *string `json:"rules_json,omitempty"`
	MinPassScore  float64 `json:"min_pass_score" validate:"gte=0,lte=100"`
	MaxAttempts   *int    `json:"max_attempts,omitempty" validate:"omitempty,gt=0"`
	IsCore        bool    `json:"is_core"`
	Weight        int     `json:"weight" validate:"gte=1,lte=5"`
	DueDate       *string `json:"due_date,omitempty" format:"date-time"`
	// Completion tracking; the only mutable fields on a task contract.
	FirstPassedAt *string  `json:"first_passed_at,omitempty" format:"date-time"`
	BestScore     *float64 `json:"best_score,omitempty"`
	BestAttemptID *string  `json:"best_attempt_id,omitempty"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

// Passed reports whether the task has ever been completed.
func (t Task) Passed() bool {
	return t.FirstPassedAt != nil
}

const (
	AttemptPending = "pending"
	AttemptPass    = "pass"
	AttemptFail    = "fail"
)

type Attempt struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"task_id"`
	UserID      string   `json:"user_id"`
	Seq         int      `json:"seq"`
	PayloadJSON string   `json:"payload_json"`
	ProofHash   string   `json:"proof_hash"`
	Status      string   `json:"status" enum:"pending,pass,fail"`
	Score       *float64 `json:"score,omitempty"`
	OutputJSON  *string  `json:"output_json,omitempty"`
	ReviewID    *string  `json:"review_id,omitempty"`
	SubmittedAt string   `json:"submitted_at" format:"date-time"`
	ValidatedAt *string  `json:"validated_at,omitempty" format:"date-time"`
}

const (
	DecisionPending       = "pending"
	DecisionApproved      = "approved"
	DecisionRejected      = "rejected"
	DecisionNeedsRevision = "needs_revision"
)

const (
	TimeoutFail      = "fail"
	TimeoutDowngrade = "downgrade"
	TimeoutNotify    = "notify"
)

type Review struct {
	ID            string   `json:"id"`
	AttemptID     string   `json:"attempt_id"`
	TaskID        string   `json:"task_id"`
	UserID        string   `json:"user_id"`
	ReviewerID    *string  `json:"reviewer_id,omitempty"`
	Decision      string   `json:"decision" enum:"pending,approved,rejected,needs_revision"`
	Score         *float64 `json:"score,omitempty"`
	Feedback      *string  `json:"feedback,omitempty"`
	SLAHours      int      `json:"sla_hours"`
	Escalated     bool     `json:"escalated"`
	TimeoutAction string   `json:"timeout_action" enum:"fail,downgrade,notify"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	DecidedAt     *string  `json:"decided_at,omitempty" format:"date-time"`
}

const (
	RemediationSuggested   = "suggested"
	RemediationAccepted    = "accepted"
	RemediationRejected    = "rejected"
	RemediationAutoApplied = "auto_applied"
)

type Remediation struct {
	ID           string  `json:"id"`
	TaskID       string  `json:"task_id"`
	UserID       string  `json:"user_id"`
	ActionType   string  `json:"action_type" enum:"difficulty_downgrade,scope_reduction,deadline_extension,task_removal"`
	Status       string  `json:"status" enum:"suggested,accepted,rejected,auto_applied"`
	Reason       string  `json:"reason"`
	ProposedJSON string  `json:"proposed_json"`
	AppliedJSON  *string `json:"applied_json,omitempty"`
	AppliedDiff  *string `json:"applied_diff,omitempty"`
	Comment      *string `json:"comment,omitempty"`
	ExpiresAt    *string `json:"expires_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	ResolvedAt   *string `json:"resolved_at,omitempty" format:"date-time"`
}

type Override struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	Justification string  `json:"justification"`
	SnapshotJSON  string  `json:"snapshot_json"`
	Active        bool    `json:"active"`
	GrantedBy     string  `json:"granted_by"`
	GrantedAt     string  `json:"granted_at" format:"date-time"`
	ExpiresAt     *string `json:"expires_at,omitempty" format:"date-time"`
	RevokedBy     *string `json:"revoked_by,omitempty"`
	RevokedAt     *string `json:"revoked_at,omitempty" format:"date-time"`
	RevokeReason  *string `json:"revoke_reason,omitempty"`
}

type ResumeVersion struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	RoadmapID  string `json:"roadmap_id"`
	Version    int    `json:"version"`
	TemplateID string `json:"template_id"`
	IsLatest   bool   `json:"is_latest"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type ResumeEntry struct {
	ID        string  `json:"id"`
	VersionID string  `json:"version_id"`
	Section   string  `json:"section"`
	Position  int     `json:"position"`
	TaskID    string  `json:"task_id"`
	AttemptID string  `json:"attempt_id"`
	Objective string  `json:"objective"`
	Score     float64 `json:"score"`
	Weight    int     `json:"weight"`
	PassedAt  string  `json:"passed_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RoadmapID  string `json:"roadmap_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
