package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestFromYAMLLayersOverDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("engine:\n  pass_threshold: 80\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Engine.PassThreshold != 80 {
		t.Fatalf("pass_threshold = %v, want 80", cfg.Engine.PassThreshold)
	}
	if cfg.Review.SLAHours != DefaultSLAHours {
		t.Fatalf("unset fields must keep defaults, sla_hours = %d", cfg.Review.SLAHours)
	}
}

func TestFromYAMLRejectsUnknownField(t *testing.T) {
	_, err := FromYAML([]byte("engine:\n  pass_treshold: 80\n"))
	if err == nil {
		t.Fatalf("misspelled keys must be rejected, not silently dropped")
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := []string{
		"engine:\n  pass_threshold: 150\n",
		"review:\n  timeout_action: explode\n",
		"repository:\n  author_share: 1.5\n",
	}
	for _, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("config %q should fail validation", doc)
		}
	}
}

func TestFromYAMLEmptyDocument(t *testing.T) {
	cfg, err := FromYAML(nil)
	if err != nil {
		t.Fatalf("empty document should yield defaults: %v", err)
	}
	if cfg.Engine.PassThreshold != DefaultPassThreshold {
		t.Fatalf("pass_threshold = %v", cfg.Engine.PassThreshold)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Review.SLAHours != DefaultSLAHours {
		t.Fatalf("expected defaults, got %+v", cfg.Review)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	doc := "review:\n  sla_hours: 24\n  timeout_action: fail\n"
	if err := os.WriteFile(filepath.Join(dir, "proofgate.yml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Review.SLAHours != 24 || cfg.Review.TimeoutAction != "fail" {
		t.Fatalf("review config not applied: %+v", cfg.Review)
	}
}

func TestTemplateLookup(t *testing.T) {
	cfg := Default()
	tpl, err := cfg.Template("")
	if err != nil || tpl.ID != "standard" {
		t.Fatalf("empty id should resolve to the first template, got %v %v", tpl.ID, err)
	}
	if _, err := cfg.Template("standard"); err != nil {
		t.Fatalf("lookup by id: %v", err)
	}
	if _, err := cfg.Template("missing"); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("unknown template should error with the id, got %v", err)
	}
}

func TestTemplateValidation(t *testing.T) {
	doc := `
resume:
  templates:
    - id: custom
      sections:
        - id: work
          title: Work
          proof_types: [repository]
          sort_by: sideways
          max_entries: 5
`
	if _, err := FromYAML([]byte(doc)); err == nil {
		t.Fatalf("an unknown sort key must be rejected")
	}
}
