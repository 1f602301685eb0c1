package validator

import (
	"encoding/json"
	"math"
)

const (
	StatusPending = "pending"
	StatusPass    = "pass"
	StatusFail    = "fail"
)

// Check records one weighted rule evaluation.
type Check struct {
	Name     string  `json:"name"`
	Passed   bool    `json:"passed"`
	Points   float64 `json:"points"`
	Max      float64 `json:"max"`
	Detail   string  `json:"detail,omitempty"`
	Critical bool    `json:"critical,omitempty"`
}

// Result is the full validator output stored on the attempt.
type Result struct {
	Status   string   `json:"status"`
	Score    *float64 `json:"score,omitempty"`
	Checks   []Check  `json:"checks,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r Result) JSON() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// ParseResult decodes a stored validator output document.
func ParseResult(outputJSON string) (Result, error) {
	var r Result
	err := json.Unmarshal([]byte(outputJSON), &r)
	return r, err
}

// Total sums accumulated points across checks.
func (r Result) Total() float64 {
	var sum float64
	for _, c := range r.Checks {
		sum += c.Points
	}
	return sum
}

func scorePtr(v float64) *float64 {
	return &v
}

// round2 rounds to two decimals, the precision scores are stored with.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func failResult(score float64, checks []Check, errs, warns []string) Result {
	return Result{Status: StatusFail, Score: scorePtr(round2(score)), Checks: checks, Errors: errs, Warnings: warns}
}
