package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proofgate/internal/config"
	"proofgate/internal/db"
	"proofgate/internal/engine"
	"proofgate/internal/metrics"
	"proofgate/internal/migrate"
	"proofgate/internal/repohost"
	"proofgate/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pg",
	Short: "Proofgate CLI",
	Long: `Proofgate validates learning-task proofs and gates resume generation on them.
Tasks are immutable contracts; every submission lands on an append-only attempt
ledger; validators score proofs and explain failures; eligibility requires all
core tasks plus a weighted support score; stagnation analysis proposes contract
remediations that a human accepts or rejects; compiled resumes trace every line
back to a validated attempt.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROOFGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(roadmapCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(attemptCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(eligibilityCmd())
	rootCmd.AddCommand(stagnationCmd())
	rootCmd.AddCommand(remediationCmd())
	rootCmd.AddCommand(overrideCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func roadmapCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "roadmap", Short: "Manage roadmaps"}

	var userID, title string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a roadmap",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rm, err := e.CreateRoadmap(ctx, userID, title, actor())
				if err != nil {
					return err
				}
				return printJSON(rm)
			})
		},
	}
	create.Flags().StringVar(&userID, "user", "", "owner user id")
	create.Flags().StringVar(&title, "title", "", "roadmap title")
	_ = create.MarkFlagRequired("user")
	_ = create.MarkFlagRequired("title")
	cmd.AddCommand(create)

	var listUser string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's roadmaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListRoadmaps(ctx, listUser)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	list.Flags().StringVar(&listUser, "user", "", "owner user id")
	_ = list.MarkFlagRequired("user")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <roadmap-id>",
		Short: "Delete a roadmap and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteRoadmap(ctx, args[0], actor())
			})
		},
	})
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage task contracts"}

	var opts engine.TaskCreateOptions
	var rules, dueDate string
	var maxAttempts int
	create := &cobra.Command{
		Use:   "create <roadmap-id>",
		Short: "Create a task contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.RoadmapID = args[0]
				opts.RulesJSON = rules
				opts.DueDate = dueDate
				opts.ActorID = actor()
				if maxAttempts > 0 {
					opts.MaxAttempts = &maxAttempts
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	create.Flags().IntVar(&opts.Day, "day", 0, "roadmap day")
	create.Flags().StringVar(&opts.Objective, "objective", "", "task objective")
	create.Flags().StringVar(&opts.ProofType, "proof", "", "proof type (repository|quiz|file|url|none)")
	create.Flags().StringVar(&opts.ValidatorType, "validator", "", "validator (auto_repository|auto_quiz|manual|none)")
	create.Flags().StringVar(&rules, "rules", "", "validator rules JSON")
	create.Flags().Float64Var(&opts.MinPassScore, "min-pass-score", 0, "pass threshold (default from config)")
	create.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempt cap (0 = unlimited)")
	create.Flags().BoolVar(&opts.IsCore, "core", false, "core task (hard eligibility gate)")
	create.Flags().IntVar(&opts.Weight, "weight", 1, "support weight 1..5")
	create.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339)")
	_ = create.MarkFlagRequired("objective")
	_ = create.MarkFlagRequired("proof")
	_ = create.MarkFlagRequired("validator")
	cmd.AddCommand(create)

	list := &cobra.Command{
		Use:   "list <roadmap-id>",
		Short: "List roadmap tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Day", "Objective", "Proof", "Core", "Best", "Passed"})
				for _, t := range tasks {
					best := ""
					if t.BestScore != nil {
						best = fmt.Sprintf("%.1f", *t.BestScore)
					}
					passed := ""
					if t.FirstPassedAt != nil {
						passed = *t.FirstPassedAt
					}
					tw.AppendRow(table.Row{t.ID, t.Day, t.Objective, t.ProofType, t.IsCore, best, passed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	})

	var reason string
	invalidate := &cobra.Command{
		Use:   "invalidate <task-id>",
		Short: "Invalidate a task completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.InvalidateCompletion(ctx, args[0], reason, actor())
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	invalidate.Flags().StringVar(&reason, "reason", "", "why the completion is revoked")
	_ = invalidate.MarkFlagRequired("reason")
	cmd.AddCommand(invalidate)

	return cmd
}

func submitCmd() *cobra.Command {
	var userID, payload, payloadFile, hostLogin string
	cmd := &cobra.Command{
		Use:   "submit <task-id>",
		Short: "Submit proof for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				body := payload
				if payloadFile != "" {
					data, err := os.ReadFile(payloadFile)
					if err != nil {
						return err
					}
					body = string(data)
				}
				res, err := e.SubmitAttempt(ctx, engine.SubmitOptions{
					TaskID:      args[0],
					UserID:      userID,
					PayloadJSON: body,
					HostLogin:   hostLogin,
					ActorID:     actor(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("attempt %d: %s\n", res.Attempt.Seq, res.Attempt.Status)
				fmt.Println(res.Explanation.Summary)
				for _, step := range res.Explanation.NextSteps {
					fmt.Println("  -", step)
				}
				if res.AttemptsRemaining != nil {
					fmt.Printf("attempts remaining: %d\n", *res.AttemptsRemaining)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "submitting user id")
	cmd.Flags().StringVar(&payload, "payload", "", "proof payload JSON")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "read proof payload JSON from file")
	cmd.Flags().StringVar(&hostLogin, "host-login", "", "source-control identity for authorship checks")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func attemptCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "attempt", Short: "Inspect the attempt ledger"}

	var userID string
	list := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List attempts for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAttempts(ctx, args[0], userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "ID", "Status", "Score", "Submitted"})
				for _, a := range items {
					score := ""
					if a.Score != nil {
						score = fmt.Sprintf("%.1f", *a.Score)
					}
					tw.AppendRow(table.Row{a.Seq, a.ID, a.Status, score, a.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&userID, "user", "", "submitting user id")
	_ = list.MarkFlagRequired("user")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "explain <attempt-id>",
		Short: "Explain a validation outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ex, err := e.ExplainAttempt(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(ex)
			})
		},
	})
	return cmd
}

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "review", Short: "Manual review queue"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending reviews, most urgent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPendingReviews(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "User", "Submitted", "Due", "Hours left", "Overdue"})
				for _, pr := range items {
					tw.AppendRow(table.Row{pr.Review.ID, pr.Review.TaskID, pr.Review.UserID,
						pr.SubmittedAt, pr.DueAt, fmt.Sprintf("%.1f", pr.HoursRemaining), pr.Overdue})
				}
				tw.Render()
				return nil
			})
		},
	})

	var reviewer, decision, feedback string
	var score float64
	decide := &cobra.Command{
		Use:   "decide <review-id>",
		Short: "Record a reviewer decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.DecisionOptions{
					ReviewID:   args[0],
					ReviewerID: reviewer,
					Decision:   decision,
					Feedback:   feedback,
					ActorID:    actor(),
				}
				if cmd.Flags().Changed("score") {
					opts.Score = &score
				}
				rv, err := e.SubmitDecision(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(rv)
			})
		},
	}
	decide.Flags().StringVar(&reviewer, "reviewer", "", "reviewer id")
	decide.Flags().StringVar(&decision, "decision", "", "approved|rejected|needs_revision")
	decide.Flags().Float64Var(&score, "score", 0, "score 0..100 (required for approval)")
	decide.Flags().StringVar(&feedback, "feedback", "", "feedback for the learner")
	_ = decide.MarkFlagRequired("reviewer")
	_ = decide.MarkFlagRequired("decision")
	cmd.AddCommand(decide)

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Escalate reviews past their SLA",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SweepSLA(ctx, actor())
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	})
	return cmd
}

func eligibilityCmd() *cobra.Command {
	var roadmapID string
	cmd := &cobra.Command{
		Use:   "eligibility <user-id>",
		Short: "Evaluate resume eligibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.EvaluateEligibility(ctx, args[0], roadmapID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ev)
				}
				fmt.Println(ev.Message)
				fmt.Printf("core: %d/%d  support: %.1f (required %.0f)\n",
					ev.Core.Completed, ev.Core.Total, ev.Support.WeightedScore, ev.Support.RequiredScore)
				for _, r := range ev.Core.Remaining {
					fmt.Println("  remaining:", r.Objective)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&roadmapID, "roadmap", "", "limit to one roadmap")
	return cmd
}

func stagnationCmd() *cobra.Command {
	var roadmapID string
	cmd := &cobra.Command{
		Use:   "stagnation <user-id>",
		Short: "Analyze stagnation and record remediation proposals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, created, err := e.AnalyzeStagnation(ctx, args[0], roadmapID, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"report": report, "created": created})
				}
				fmt.Printf("stagnant: %v (severity %s)\n", report.IsStagnant, report.Severity)
				for _, issue := range report.Issues {
					fmt.Printf("  [%s] %s\n", issue.Type, issue.Detail)
				}
				for _, rm := range created {
					fmt.Printf("  proposed %s on task %s (%s)\n", rm.ActionType, rm.TaskID, rm.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&roadmapID, "roadmap", "", "limit to one roadmap")
	return cmd
}

func remediationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "remediation", Short: "Review remediation proposals"}

	var userID, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List remediation proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListRemediations(ctx, userID, status)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	list.Flags().StringVar(&userID, "user", "", "user id")
	list.Flags().StringVar(&status, "status", "", "filter by status")
	_ = list.MarkFlagRequired("user")
	cmd.AddCommand(list)

	var comment string
	accept := &cobra.Command{
		Use:   "accept <remediation-id>",
		Short: "Accept and apply a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rm, err := e.AcceptRemediation(ctx, args[0], comment, actor())
				if err != nil {
					return err
				}
				return printJSON(rm)
			})
		},
	}
	accept.Flags().StringVar(&comment, "comment", "", "optional comment")
	cmd.AddCommand(accept)

	var rejectComment string
	reject := &cobra.Command{
		Use:   "reject <remediation-id>",
		Short: "Reject a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rm, err := e.RejectRemediation(ctx, args[0], rejectComment, actor())
				if err != nil {
					return err
				}
				return printJSON(rm)
			})
		},
	}
	reject.Flags().StringVar(&rejectComment, "comment", "", "optional comment")
	cmd.AddCommand(reject)

	return cmd
}

func overrideCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "override", Short: "Eligibility overrides"}

	var userID, roadmapID, justification, expires string
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Grant an eligibility override",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ov, err := e.GrantOverride(ctx, userID, roadmapID, justification, actor(), expires)
				if err != nil {
					return err
				}
				return printJSON(ov)
			})
		},
	}
	grant.Flags().StringVar(&userID, "user", "", "user id")
	grant.Flags().StringVar(&roadmapID, "roadmap", "", "roadmap id for the snapshot")
	grant.Flags().StringVar(&justification, "justification", "", "why the gate is bypassed")
	grant.Flags().StringVar(&expires, "expires", "", "expiry (RFC3339, optional)")
	_ = grant.MarkFlagRequired("user")
	_ = grant.MarkFlagRequired("justification")
	cmd.AddCommand(grant)

	var reason string
	revoke := &cobra.Command{
		Use:   "revoke <override-id>",
		Short: "Revoke an override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ov, err := e.RevokeOverride(ctx, args[0], actor(), reason)
				if err != nil {
					return err
				}
				return printJSON(ov)
			})
		},
	}
	revoke.Flags().StringVar(&reason, "reason", "", "why the override is revoked")
	_ = revoke.MarkFlagRequired("reason")
	cmd.AddCommand(revoke)

	var listUser string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListOverrides(ctx, listUser)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	list.Flags().StringVar(&listUser, "user", "", "user id")
	_ = list.MarkFlagRequired("user")
	cmd.AddCommand(list)

	return cmd
}

func resumeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "resume", Short: "Compile and inspect resumes"}

	var userID, roadmapID, templateID string
	compile := &cobra.Command{
		Use:   "compile",
		Short: "Compile the next resume version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.CompileResume(ctx, userID, roadmapID, templateID, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc)
				}
				printResume(doc)
				return nil
			})
		},
	}
	compile.Flags().StringVar(&userID, "user", "", "user id")
	compile.Flags().StringVar(&roadmapID, "roadmap", "", "roadmap id")
	compile.Flags().StringVar(&templateID, "template", "", "template id (default from config)")
	_ = compile.MarkFlagRequired("user")
	_ = compile.MarkFlagRequired("roadmap")
	cmd.AddCommand(compile)

	var showUser, showRoadmap string
	show := &cobra.Command{
		Use:   "show [version-id]",
		Short: "Show a compiled resume (latest when no version given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				versionID := ""
				if len(args) == 1 {
					versionID = args[0]
				}
				doc, err := e.GetResume(ctx, showUser, showRoadmap, versionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc)
				}
				printResume(doc)
				return nil
			})
		},
	}
	show.Flags().StringVar(&showUser, "user", "", "user id (for latest lookup)")
	show.Flags().StringVar(&showRoadmap, "roadmap", "", "roadmap id (for latest lookup)")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "verify <version-id>",
		Short: "Verify every entry against the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.VerifyResume(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	})

	var versionsUser, versionsRoadmap string
	versions := &cobra.Command{
		Use:   "versions",
		Short: "List resume versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListResumeVersions(ctx, versionsUser, versionsRoadmap)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	versions.Flags().StringVar(&versionsUser, "user", "", "user id")
	versions.Flags().StringVar(&versionsRoadmap, "roadmap", "", "roadmap id")
	_ = versions.MarkFlagRequired("user")
	_ = versions.MarkFlagRequired("roadmap")
	cmd.AddCommand(versions)

	return cmd
}

func printResume(doc engine.ResumeDocument) {
	fmt.Printf("resume v%d (%s), template %s\n", doc.Version.Version, doc.Version.ID, doc.Version.TemplateID)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Section", "#", "Objective", "Score", "Passed", "Attempt"})
	for _, e := range doc.Entries {
		tw.AppendRow(table.Row{e.Section, e.Position, e.Objective, fmt.Sprintf("%.1f", e.Score), e.PassedAt, e.AttemptID})
	}
	tw.Render()
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	var limit int
	var roadmapID, evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.LatestEvents(ctx, limit, roadmapID, evtType, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "number of events")
	tail.Flags().StringVar(&roadmapID, "roadmap", "", "filter by roadmap")
	tail.Flags().StringVar(&evtType, "type", "", "filter by event type")
	cmd.AddCommand(tail)
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var sweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, hostClient(cfg))
			e.Metrics = metrics.New(prometheus.DefaultRegisterer)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Metrics: true})
			if err != nil {
				return err
			}

			if sweep {
				interval := time.Duration(cfg.Review.SweepIntervalMins) * time.Minute
				go func() {
					ticker := time.NewTicker(interval)
					defer ticker.Stop()
					for {
						select {
						case <-cmd.Context().Done():
							return
						case <-ticker.C:
							if _, err := e.SweepSLA(cmd.Context(), "system"); err != nil {
								fmt.Fprintln(os.Stderr, "sla sweep:", err)
							}
						}
					}
				}()
			}

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Proofgate API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&sweep, "sla-sweep", true, "run the background SLA sweep")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg, hostClient(cfg)))
}

func hostClient(cfg *config.Config) *repohost.HTTPClient {
	token := cfg.Host.Token
	if token == "" {
		token = os.Getenv("PROOFGATE_HOST_TOKEN")
	}
	return repohost.NewHTTPClient(cfg.Host.BaseURL, token, time.Duration(cfg.Host.TimeoutSecs)*time.Second)
}

func actor() string {
	return viper.GetString("actor-id")
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
