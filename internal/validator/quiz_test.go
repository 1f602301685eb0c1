package validator

import (
	"strings"
	"testing"
)

func TestGradeQuizAllCorrect(t *testing.T) {
	rules := &QuizRules{AnswerKey: map[string]string{"q1": "Paris", "q2": "4"}}
	payload := Payload{Answers: map[string]string{"q1": "  paris ", "q2": "4"}}
	res := GradeQuiz(rules, payload, 70)
	if res.Status != StatusPass {
		t.Fatalf("status = %s, want pass", res.Status)
	}
	if res.Score == nil || *res.Score != 100 {
		t.Fatalf("score = %v, want 100", res.Score)
	}
}

func TestGradeQuizHalfCorrect(t *testing.T) {
	rules := &QuizRules{AnswerKey: map[string]string{"q1": "Paris", "q2": "4"}}
	payload := Payload{Answers: map[string]string{"q1": "London", "q2": "4"}}
	res := GradeQuiz(rules, payload, 70)
	if res.Status != StatusFail {
		t.Fatalf("status = %s, want fail", res.Status)
	}
	if res.Score == nil || *res.Score != 50 {
		t.Fatalf("score = %v, want 50", res.Score)
	}
	wrong := 0
	for _, c := range res.Checks {
		if !c.Passed {
			wrong++
			if !strings.HasPrefix(c.Name, "question:") {
				t.Fatalf("check name %q should carry the question id", c.Name)
			}
		}
	}
	if wrong != 1 {
		t.Fatalf("failed checks = %d, want 1", wrong)
	}
}

func TestGradeQuizCaseSensitive(t *testing.T) {
	rules := &QuizRules{AnswerKey: map[string]string{"q1": "Paris"}, CaseSensitive: true}
	res := GradeQuiz(rules, Payload{Answers: map[string]string{"q1": "paris"}}, 70)
	if res.Status != StatusFail {
		t.Fatalf("case-sensitive grading accepted wrong case")
	}
}

func TestGradeQuizMissingAnswerKey(t *testing.T) {
	res := GradeQuiz(&QuizRules{}, Payload{Answers: map[string]string{"q1": "x"}}, 70)
	if res.Status != StatusFail {
		t.Fatalf("status = %s, want fail", res.Status)
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0], "answer key") {
		t.Fatalf("expected explicit answer-key error, got %v", res.Errors)
	}
}

func TestGradeQuizCheckOrderIsStable(t *testing.T) {
	rules := &QuizRules{AnswerKey: map[string]string{"q3": "c", "q1": "a", "q2": "b"}}
	payload := Payload{Answers: map[string]string{"q1": "a", "q2": "b", "q3": "c"}}
	want := []string{"question:q1", "question:q2", "question:q3"}
	for i := 0; i < 5; i++ {
		res := GradeQuiz(rules, payload, 70)
		for j, c := range res.Checks {
			if c.Name != want[j] {
				t.Fatalf("run %d: checks[%d] = %q, want %q", i, j, c.Name, want[j])
			}
		}
	}
}

func TestGradeQuizUnansweredQuestion(t *testing.T) {
	rules := &QuizRules{AnswerKey: map[string]string{"q1": "a", "q2": "b"}}
	res := GradeQuiz(rules, Payload{Answers: map[string]string{"q1": "a"}}, 70)
	for _, c := range res.Checks {
		if c.Name == "question:q2" && c.Detail != "not answered" {
			t.Fatalf("q2 detail = %q, want not answered", c.Detail)
		}
	}
}
