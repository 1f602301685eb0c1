// Package validator contains the automated proof validators, the dispatch
// over validator kinds and the pre-screen that runs before manual review.
package validator

import (
	"encoding/json"
	"fmt"
)

const (
	ValidatorRepository = "auto_repository"
	ValidatorQuiz       = "auto_quiz"
	ValidatorManual     = "manual"
	ValidatorNone       = "none"
)

const (
	ProofRepository = "repository"
	ProofQuiz       = "quiz"
	ProofFile       = "file"
	ProofURL        = "url"
	ProofNone       = "none"
)

// RepositoryRules parameterizes the repository validator.
type RepositoryRules struct {
	AllowForks         bool     `json:"allow_forks"`
	MinAgeHours        *int     `json:"min_age_hours,omitempty"`
	MinCommits         int      `json:"min_commits"`
	RequireAuthorMatch bool     `json:"require_author_match"`
	MaxWindowShare     *float64 `json:"max_window_share,omitempty"`
	RequiredPaths      []string `json:"required_paths,omitempty"`
	Keywords           []string `json:"keywords,omitempty"`
}

// QuizRules carries the answer key for the quiz validator.
type QuizRules struct {
	AnswerKey     map[string]string `json:"answer_key"`
	CaseSensitive bool              `json:"case_sensitive"`
}

// ManualRules tunes the review record created for manual-validator tasks.
type ManualRules struct {
	SLAHours      int    `json:"sla_hours,omitempty"`
	TimeoutAction string `json:"timeout_action,omitempty"`
}

// Rules is a tagged variant: exactly one field is set, matching the task's
// validator type. Dispatch switches over the set variant instead of poking
// an untyped map.
type Rules struct {
	Repository *RepositoryRules
	Quiz       *QuizRules
	Manual     *ManualRules
}

// ParseRules decodes a task's rules JSON into the variant for its validator
// type. Absent rules yield zero-valued rules for the declared validator.
func ParseRules(validatorType string, rulesJSON *string) (Rules, error) {
	raw := []byte("{}")
	if rulesJSON != nil && *rulesJSON != "" {
		raw = []byte(*rulesJSON)
	}
	switch validatorType {
	case ValidatorRepository:
		var r RepositoryRules
		if err := json.Unmarshal(raw, &r); err != nil {
			return Rules{}, fmt.Errorf("repository rules: %w", err)
		}
		return Rules{Repository: &r}, nil
	case ValidatorQuiz:
		var r QuizRules
		if err := json.Unmarshal(raw, &r); err != nil {
			return Rules{}, fmt.Errorf("quiz rules: %w", err)
		}
		return Rules{Quiz: &r}, nil
	case ValidatorManual:
		var r ManualRules
		if err := json.Unmarshal(raw, &r); err != nil {
			return Rules{}, fmt.Errorf("manual rules: %w", err)
		}
		return Rules{Manual: &r}, nil
	case ValidatorNone:
		return Rules{}, nil
	default:
		return Rules{}, fmt.Errorf("unknown validator type %q", validatorType)
	}
}

// Payload is the submitted proof, decoded per proof type.
type Payload struct {
	RepoURL       string            `json:"repo_url,omitempty"`
	Answers       map[string]string `json:"answers,omitempty"`
	FilePath      string            `json:"file_path,omitempty"`
	FileSizeBytes int64             `json:"file_size_bytes,omitempty"`
	URL           string            `json:"url,omitempty"`
	Notes         string            `json:"notes,omitempty"`
}

// ParsePayload decodes a proof payload document.
func ParsePayload(payloadJSON string) (Payload, error) {
	var p Payload
	if payloadJSON == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return p, fmt.Errorf("proof payload: %w", err)
	}
	return p, nil
}
