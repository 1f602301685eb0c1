// Package explain converts raw validator output into a human explanation:
// a summary, rule-by-rule violations, a score breakdown and concrete next
// steps. Pure; it reads validation state and never writes any.
package explain

import (
	"fmt"
	"strings"

	"proofgate/internal/validator"
)

type Violation struct {
	Rule        string `json:"rule"`
	Issue       string `json:"issue"`
	Requirement string `json:"requirement"`
}

type ScoreLine struct {
	Check  string  `json:"check"`
	Passed bool    `json:"passed"`
	Points float64 `json:"points"`
	Max    float64 `json:"max"`
}

type Explanation struct {
	Summary        string      `json:"summary"`
	Violations     []Violation `json:"violations,omitempty"`
	ScoreBreakdown []ScoreLine `json:"score_breakdown,omitempty"`
	NextSteps      []string    `json:"next_steps,omitempty"`
}

// requirements and remedies per rule name. A failed rule with no mapping
// still produces a violation built from its recorded detail, so a FAIL can
// never surface as a bare "score too low".
var requirements = map[string]string{
	"not_a_fork":         "the repository must be original work, not a fork",
	"repository_age":     "the repository must predate the task by the configured minimum age",
	"public_repository":  "the repository must be public so the proof is verifiable",
	"author_consistency": "the authenticated user must author at least the required share of commits",
	"commit_spread":      "commits should be spread over time, not batched into a single hour",
	"commit_count":       "the repository must contain at least the required number of commits",
	"required_paths":     "all files and directories named by the task rules must exist",
	"keywords":           "the task's keywords must appear in the repository contents or readme",
}

var remedies = map[string]string{
	"not_a_fork":         "Start from an empty repository of your own instead of forking.",
	"repository_age":     "Use a repository with real, pre-existing history for this objective.",
	"public_repository":  "Make the repository public and resubmit.",
	"author_consistency": "Commit under the account you submitted with; rebase foreign commits out if needed.",
	"commit_spread":      "Work incrementally and commit as you go rather than pushing everything at once.",
	"commit_count":       "Break the work into more commits that show your progress.",
	"required_paths":     "Add the missing files or directories listed above.",
	"keywords":           "Cover the required topics and mention them in your readme.",
}

// Build derives the explanation attached to every user-visible validation
// outcome.
func Build(status string, res validator.Result, proofType string, preval *validator.Prevalidation) Explanation {
	var ex Explanation
	for _, c := range res.Checks {
		ex.ScoreBreakdown = append(ex.ScoreBreakdown, ScoreLine{Check: c.Name, Passed: c.Passed, Points: c.Points, Max: c.Max})
	}

	if preval != nil && !preval.OK {
		ex.Summary = "The submission was rejected before review: " + preval.Reason + "."
		ex.Violations = append(ex.Violations, Violation{
			Rule:        "prevalidation",
			Issue:       preval.Reason,
			Requirement: prevalRequirement(proofType),
		})
		ex.NextSteps = append(ex.NextSteps, prevalRemedy(proofType))
		return ex
	}

	switch status {
	case validator.StatusPending:
		ex.Summary = "The proof passed pre-screening and is waiting for a reviewer."
		if len(res.Warnings) > 0 {
			ex.Summary = fmt.Sprintf("The proof passed pre-screening with %d warning(s) and is waiting for a reviewer: %s.",
				len(res.Warnings), strings.Join(res.Warnings, "; "))
		}
		ex.NextSteps = append(ex.NextSteps, "No action needed; you will be notified when the review completes.")
		return ex
	case validator.StatusPass:
		ex.Summary = passSummary(res)
		return ex
	}

	for _, c := range res.Checks {
		if c.Passed {
			continue
		}
		issue := c.Detail
		if issue == "" {
			issue = "check did not pass"
		}
		if strings.HasPrefix(c.Name, "question:") {
			ex.Violations = append(ex.Violations, Violation{
				Rule:        c.Name,
				Issue:       issue,
				Requirement: "the answer must match the answer key",
			})
			continue
		}
		ex.Violations = append(ex.Violations, Violation{
			Rule:        c.Name,
			Issue:       issue,
			Requirement: requirements[c.Name],
		})
		if remedy, ok := remedies[c.Name]; ok {
			ex.NextSteps = append(ex.NextSteps, remedy)
		}
	}
	for _, e := range res.Errors {
		ex.Violations = append(ex.Violations, Violation{
			Rule:        "external_lookup",
			Issue:       e,
			Requirement: "all proof lookups must succeed for full credit",
		})
	}
	if len(ex.Violations) == 0 {
		// A fail with no recorded check failures still owes the user detail.
		ex.Violations = append(ex.Violations, Violation{
			Rule:        "score",
			Issue:       fmt.Sprintf("accumulated score %s is below the pass threshold", scoreText(res)),
			Requirement: "the weighted checks must accumulate a passing score",
		})
	}
	if quizFailed(res) {
		ex.NextSteps = append(ex.NextSteps, "Review the questions marked incorrect and retake the quiz.")
	}
	if len(res.Errors) > 0 {
		ex.NextSteps = append(ex.NextSteps, "Some lookups failed; verify the proof is reachable and resubmit.")
	}
	if len(ex.NextSteps) == 0 {
		ex.NextSteps = append(ex.NextSteps, "Address the violations above and submit a new attempt.")
	}
	ex.Summary = failSummary(res, ex.Violations)
	return ex
}

func quizFailed(res validator.Result) bool {
	for _, c := range res.Checks {
		if strings.HasPrefix(c.Name, "question:") && !c.Passed {
			return true
		}
	}
	return false
}

func passSummary(res validator.Result) string {
	s := "The proof was validated successfully"
	if res.Score != nil {
		s += fmt.Sprintf(" with a score of %.2f", *res.Score)
	}
	if len(res.Warnings) > 0 {
		s += fmt.Sprintf(" (%d warnings recorded)", len(res.Warnings))
	}
	return s + "."
}

func failSummary(res validator.Result, violations []Violation) string {
	for _, c := range res.Checks {
		if c.Critical {
			return fmt.Sprintf("The proof was rejected outright: %s.", c.Detail)
		}
	}
	return fmt.Sprintf("The proof scored %s and did not pass; %d rule(s) were violated.", scoreText(res), len(violations))
}

func scoreText(res validator.Result) string {
	if res.Score == nil {
		return "no score"
	}
	return fmt.Sprintf("%.2f", *res.Score)
}

func prevalRequirement(proofType string) string {
	if proofType == validator.ProofFile {
		return "file proof must name an existing file no larger than the size limit"
	}
	return "url proof must be a valid, reachable http(s) address"
}

func prevalRemedy(proofType string) string {
	if proofType == validator.ProofFile {
		return "Upload a smaller file or check the file path and resubmit."
	}
	return "Fix the address or publish the page, then resubmit."
}
