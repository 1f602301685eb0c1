package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"proofgate/internal/repohost"
)

// Weighted checks of the repository validator. They sum to 100.
const (
	pointsPublic      = 20
	pointsAuthor      = 20
	pointsSpread      = 20
	pointsCommits     = 15
	pointsPaths       = 15
	pointsKeywords    = 10
	commitWindow      = time.Hour
	// Below this many commits the window heuristic has nothing meaningful
	// to say and the spread check passes trivially.
	minCommitsForWindowCheck = 5
)

// RepositoryValidator decides whether an externally hosted repository is
// credible, original, public and substantive proof of an objective.
type RepositoryValidator struct {
	Host        repohost.Client
	MinAgeHours int
	AuthorShare float64
	WindowShare float64
}

// Validate runs the check sequence. The fork and age checks are hard
// anti-gaming blocks and short-circuit to FAIL/0; everything after them
// accumulates weighted points. Every host lookup is individually degraded:
// a failed call zeroes the checks that depended on it and lands in the
// result's errors, it never aborts the validation.
func (v *RepositoryValidator) Validate(ctx context.Context, rules *RepositoryRules, payload Payload, userLogin string, taskStartedAt *time.Time, passThreshold float64) Result {
	if rules == nil {
		rules = &RepositoryRules{}
	}
	owner, name, err := repohost.ParseRepoURL(payload.RepoURL)
	if err != nil {
		return failResult(0, nil, []string{err.Error()}, nil)
	}

	meta, err := v.Host.Repository(ctx, owner, name)
	if err != nil {
		return failResult(0, nil, []string{fmt.Sprintf("repository lookup failed: %v", err)}, nil)
	}

	var checks []Check

	// Security checks first; either one failing voids the whole attempt.
	if meta.Fork && !rules.AllowForks {
		checks = append(checks, Check{
			Name: "not_a_fork", Critical: true,
			Detail: fmt.Sprintf("%s is a fork and forks are not accepted for this task", meta.FullName),
		})
		return failResult(0, checks, nil, nil)
	}
	checks = append(checks, Check{Name: "not_a_fork", Passed: true})

	minAge := v.MinAgeHours
	if rules.MinAgeHours != nil {
		minAge = *rules.MinAgeHours
	}
	if taskStartedAt != nil {
		cutoff := taskStartedAt.Add(-time.Duration(minAge) * time.Hour)
		if meta.CreatedAt.After(cutoff) {
			checks = append(checks, Check{
				Name: "repository_age", Critical: true,
				Detail: fmt.Sprintf("repository was created %s, less than %dh before the task started", meta.CreatedAt.Format(time.RFC3339), minAge),
			})
			return failResult(0, checks, nil, nil)
		}
		checks = append(checks, Check{Name: "repository_age", Passed: true})
	}

	var errs, warns []string

	checks = append(checks, Check{
		Name:   "public_repository",
		Passed: !meta.Private,
		Points: boolPoints(!meta.Private, pointsPublic),
		Max:    pointsPublic,
		Detail: visibilityDetail(meta.Private),
	})

	commits, cerr := v.Host.Commits(ctx, owner, name)
	if cerr != nil {
		errs = append(errs, fmt.Sprintf("commit list lookup failed: %v", cerr))
		checks = append(checks,
			Check{Name: "author_consistency", Max: pointsAuthor, Detail: "commit list unavailable"},
			Check{Name: "commit_spread", Max: pointsSpread, Detail: "commit list unavailable"},
			Check{Name: "commit_count", Max: pointsCommits, Detail: "commit list unavailable"},
		)
	} else {
		authorCheck, critical := v.authorCheck(rules, commits, userLogin, &warns)
		checks = append(checks, authorCheck)
		if critical {
			return failResult(0, checks, errs, warns)
		}
		checks = append(checks, v.spreadCheck(rules, commits, &warns))
		checks = append(checks, commitCountCheck(rules, len(commits)))
	}

	checks = append(checks, v.pathsCheck(ctx, owner, name, meta.DefaultBranch, rules, &errs))
	checks = append(checks, v.keywordsCheck(ctx, owner, name, meta.DefaultBranch, rules, &errs))

	res := Result{Checks: checks, Errors: errs, Warnings: warns}
	score := round2(res.Total())
	res.Score = scorePtr(score)
	if score >= passThreshold {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
	}
	return res
}

func visibilityDetail(private bool) string {
	if private {
		return "repository is private; proof must be publicly verifiable"
	}
	return "repository is public"
}

// authorCheck verifies the authenticated user authored the bulk of the
// history. Authorship below the share with a required match is a critical
// failure; a missing identity only warns, it cannot block.
func (v *RepositoryValidator) authorCheck(rules *RepositoryRules, commits []repohost.Commit, userLogin string, warns *[]string) (Check, bool) {
	if userLogin == "" {
		*warns = append(*warns, "no authenticated source-control identity supplied; authorship not verified")
		return Check{Name: "author_consistency", Max: pointsAuthor, Detail: "skipped: no authenticated identity"}, false
	}
	if len(commits) == 0 {
		*warns = append(*warns, "repository has no commits to attribute")
		return Check{Name: "author_consistency", Max: pointsAuthor, Detail: "no commits"}, rules.RequireAuthorMatch
	}
	authored := 0
	for _, c := range commits {
		if strings.EqualFold(c.AuthorLogin, userLogin) {
			authored++
		}
	}
	share := float64(authored) / float64(len(commits))
	detail := fmt.Sprintf("%d of %d commits (%.0f%%) authored by %s", authored, len(commits), share*100, userLogin)
	if share >= v.AuthorShare {
		return Check{Name: "author_consistency", Passed: true, Points: pointsAuthor, Max: pointsAuthor, Detail: detail}, false
	}
	if rules.RequireAuthorMatch {
		return Check{Name: "author_consistency", Critical: true, Max: pointsAuthor,
			Detail: detail + fmt.Sprintf("; at least %.0f%% required", v.AuthorShare*100)}, true
	}
	*warns = append(*warns, "low author share: "+detail)
	return Check{Name: "author_consistency", Max: pointsAuthor, Detail: detail}, false
}

// spreadCheck flags batch-committed histories: too many commits inside the
// densest one-hour window looks like the work was staged, not done. It is a
// soft signal and only ever costs points.
func (v *RepositoryValidator) spreadCheck(rules *RepositoryRules, commits []repohost.Commit, warns *[]string) Check {
	if len(commits) < minCommitsForWindowCheck {
		return Check{Name: "commit_spread", Passed: true, Points: pointsSpread, Max: pointsSpread,
			Detail: "too few commits for the window heuristic"}
	}
	maxShare := v.WindowShare
	if rules.MaxWindowShare != nil {
		maxShare = *rules.MaxWindowShare
	}
	share := densestWindowShare(commits, commitWindow)
	detail := fmt.Sprintf("densest 1h window holds %.0f%% of commits", share*100)
	if share > maxShare {
		*warns = append(*warns, "suspicious batch-committing: "+detail)
		return Check{Name: "commit_spread", Max: pointsSpread, Detail: detail}
	}
	return Check{Name: "commit_spread", Passed: true, Points: pointsSpread, Max: pointsSpread, Detail: detail}
}

func densestWindowShare(commits []repohost.Commit, window time.Duration) float64 {
	times := make([]time.Time, len(commits))
	for i, c := range commits {
		times[i] = c.AuthoredAt
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	best := 0
	lo := 0
	for hi := range times {
		for times[hi].Sub(times[lo]) > window {
			lo++
		}
		if n := hi - lo + 1; n > best {
			best = n
		}
	}
	return float64(best) / float64(len(times))
}

func commitCountCheck(rules *RepositoryRules, count int) Check {
	if rules.MinCommits <= 0 {
		return Check{Name: "commit_count", Passed: true, Points: pointsCommits, Max: pointsCommits,
			Detail: "no minimum configured"}
	}
	ok := count >= rules.MinCommits
	return Check{
		Name:   "commit_count",
		Passed: ok,
		Points: boolPoints(ok, pointsCommits),
		Max:    pointsCommits,
		Detail: fmt.Sprintf("%d commits, %d required", count, rules.MinCommits),
	}
}

func (v *RepositoryValidator) pathsCheck(ctx context.Context, owner, name, branch string, rules *RepositoryRules, errs *[]string) Check {
	if len(rules.RequiredPaths) == 0 {
		return Check{Name: "required_paths", Passed: true, Points: pointsPaths, Max: pointsPaths,
			Detail: "no required paths configured"}
	}
	tree, err := v.Host.Tree(ctx, owner, name, branch)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("tree lookup failed: %v", err))
		return Check{Name: "required_paths", Max: pointsPaths, Detail: "repository contents unavailable"}
	}
	var missing []string
	for _, want := range rules.RequiredPaths {
		if !treeContains(tree, want) {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return Check{Name: "required_paths", Max: pointsPaths,
			Detail: "missing: " + strings.Join(missing, ", ")}
	}
	return Check{Name: "required_paths", Passed: true, Points: pointsPaths, Max: pointsPaths,
		Detail: fmt.Sprintf("all %d required paths present", len(rules.RequiredPaths))}
}

func treeContains(tree []string, want string) bool {
	want = strings.Trim(want, "/")
	for _, p := range tree {
		if p == want || strings.HasSuffix(p, "/"+want) || strings.HasPrefix(p, want+"/") {
			return true
		}
	}
	return false
}

func (v *RepositoryValidator) keywordsCheck(ctx context.Context, owner, name, branch string, rules *RepositoryRules, errs *[]string) Check {
	if len(rules.Keywords) == 0 {
		return Check{Name: "keywords", Passed: true, Points: pointsKeywords, Max: pointsKeywords,
			Detail: "no keywords configured"}
	}
	var haystack strings.Builder
	readme, err := v.Host.Readme(ctx, owner, name)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("readme lookup failed: %v", err))
	} else {
		haystack.WriteString(readme)
		haystack.WriteString("\n")
	}
	tree, err := v.Host.Tree(ctx, owner, name, branch)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("tree lookup failed: %v", err))
	} else {
		haystack.WriteString(strings.Join(tree, "\n"))
	}
	content := strings.ToLower(haystack.String())
	var missing []string
	for _, kw := range rules.Keywords {
		if !strings.Contains(content, strings.ToLower(kw)) {
			missing = append(missing, kw)
		}
	}
	if len(missing) > 0 {
		return Check{Name: "keywords", Max: pointsKeywords,
			Detail: "not found: " + strings.Join(missing, ", ")}
	}
	return Check{Name: "keywords", Passed: true, Points: pointsKeywords, Max: pointsKeywords,
		Detail: fmt.Sprintf("all %d keywords found", len(rules.Keywords))}
}
