package validator

import (
	"fmt"
	"sort"
	"strings"
)

// GradeQuiz grades submitted answers against the rule's answer key.
// Comparison is exact-string after trimming surrounding whitespace; case is
// folded unless the rules demand case-sensitive matching. A missing answer
// key is a rule-configuration fault and fails with an explicit reason; it
// never silently passes.
func GradeQuiz(rules *QuizRules, payload Payload, passThreshold float64) Result {
	if rules == nil || len(rules.AnswerKey) == 0 {
		return failResult(0, nil, []string{"quiz has no answer key configured; grading is impossible"}, nil)
	}
	total := len(rules.AnswerKey)
	ids := make([]string, 0, total)
	for q := range rules.AnswerKey {
		ids = append(ids, q)
	}
	// Stable check order keeps stored output and score breakdowns comparable
	// across attempts.
	sort.Strings(ids)
	correct := 0
	checks := make([]Check, 0, total)
	for _, q := range ids {
		want := rules.AnswerKey[q]
		got, answered := payload.Answers[q]
		ok := answered && normalize(got, rules.CaseSensitive) == normalize(want, rules.CaseSensitive)
		if ok {
			correct++
		}
		detail := "correct"
		if !answered {
			detail = "not answered"
		} else if !ok {
			detail = "incorrect"
		}
		checks = append(checks, Check{
			Name:   "question:" + q,
			Passed: ok,
			Points: boolPoints(ok, 100/float64(total)),
			Max:    100 / float64(total),
			Detail: detail,
		})
	}
	score := round2(float64(correct) / float64(total) * 100)
	status := StatusFail
	if score >= passThreshold {
		status = StatusPass
	}
	res := Result{Status: status, Score: scorePtr(score), Checks: checks}
	if status == StatusFail {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d of %d answers correct", correct, total))
	}
	return res
}

func normalize(s string, caseSensitive bool) string {
	s = strings.TrimSpace(s)
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

func boolPoints(ok bool, points float64) float64 {
	if ok {
		return round2(points)
	}
	return 0
}
