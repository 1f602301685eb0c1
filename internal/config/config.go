package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Named defaults. Every threshold the engine applies lives here, not inline.
const (
	DefaultPassThreshold     = 70.0
	DefaultSLAHours          = 48
	DefaultTimeoutAction     = "notify"
	DefaultRepoMinAgeHours   = 24
	DefaultAuthorShare       = 0.70
	DefaultCommitWindowShare = 0.70
	DefaultHostTimeoutSecs   = 10
	DefaultProbeTimeoutSecs  = 5
	DefaultMaxFileSizeMB     = 50
	DefaultInactivityDays    = 7
	DefaultFailStreak        = 3
	DefaultLowScoreWindow    = 10
	DefaultLowScoreThreshold = 40.0
	DefaultSubmitRetries     = 3
	DefaultSweepIntervalMins = 30
)

// Config models proofgate.yml.
type Config struct {
	Engine struct {
		PassThreshold float64 `yaml:"pass_threshold"`
		SubmitRetries int     `yaml:"submit_retries"`
	} `yaml:"engine"`
	Review struct {
		SLAHours          int    `yaml:"sla_hours"`
		TimeoutAction     string `yaml:"timeout_action"`
		SweepIntervalMins int    `yaml:"sweep_interval_mins"`
	} `yaml:"review"`
	Repository struct {
		MinAgeHours       int     `yaml:"min_age_hours"`
		AuthorShare       float64 `yaml:"author_share"`
		CommitWindowShare float64 `yaml:"commit_window_share"`
	} `yaml:"repository"`
	Host struct {
		BaseURL     string `yaml:"base_url"`
		Token       string `yaml:"token"`
		TimeoutSecs int    `yaml:"timeout_secs"`
	} `yaml:"host"`
	Prevalidate struct {
		MaxFileSizeMB    int `yaml:"max_file_size_mb"`
		ProbeTimeoutSecs int `yaml:"probe_timeout_secs"`
	} `yaml:"prevalidate"`
	Stagnation struct {
		InactivityDays    int     `yaml:"inactivity_days"`
		FailStreak        int     `yaml:"fail_streak"`
		LowScoreWindow    int     `yaml:"low_score_window"`
		LowScoreThreshold float64 `yaml:"low_score_threshold"`
	} `yaml:"stagnation"`
	Resume struct {
		Templates []Template `yaml:"templates"`
	} `yaml:"resume"`
}

// Template describes how passed tasks are laid out into resume sections.
type Template struct {
	ID       string    `yaml:"id" json:"id"`
	Sections []Section `yaml:"sections" json:"sections"`
}

// Section selects tasks by proof type, orders them and caps the entry count.
type Section struct {
	ID         string   `yaml:"id" json:"id"`
	Title      string   `yaml:"title" json:"title"`
	ProofTypes []string `yaml:"proof_types" json:"proof_types"`
	SortBy     string   `yaml:"sort_by" json:"sort_by"` // weight, score or date
	MaxEntries int      `yaml:"max_entries" json:"max_entries"`
}

// Default returns the engine configuration with all documented defaults applied.
func Default() *Config {
	var c Config
	c.Engine.PassThreshold = DefaultPassThreshold
	c.Engine.SubmitRetries = DefaultSubmitRetries
	c.Review.SLAHours = DefaultSLAHours
	c.Review.TimeoutAction = DefaultTimeoutAction
	c.Review.SweepIntervalMins = DefaultSweepIntervalMins
	c.Repository.MinAgeHours = DefaultRepoMinAgeHours
	c.Repository.AuthorShare = DefaultAuthorShare
	c.Repository.CommitWindowShare = DefaultCommitWindowShare
	c.Host.BaseURL = "https://api.github.com"
	c.Host.TimeoutSecs = DefaultHostTimeoutSecs
	c.Prevalidate.MaxFileSizeMB = DefaultMaxFileSizeMB
	c.Prevalidate.ProbeTimeoutSecs = DefaultProbeTimeoutSecs
	c.Stagnation.InactivityDays = DefaultInactivityDays
	c.Stagnation.FailStreak = DefaultFailStreak
	c.Stagnation.LowScoreWindow = DefaultLowScoreWindow
	c.Stagnation.LowScoreThreshold = DefaultLowScoreThreshold
	c.Resume.Templates = []Template{DefaultTemplate()}
	return &c
}

// DefaultTemplate is used when a resume is generated without an explicit template.
func DefaultTemplate() Template {
	return Template{
		ID: "standard",
		Sections: []Section{
			{ID: "projects", Title: "Projects", ProofTypes: []string{"repository", "url"}, SortBy: "weight", MaxEntries: 6},
			{ID: "skills", Title: "Skills", ProofTypes: []string{"quiz", "file"}, SortBy: "score", MaxEntries: 10},
		},
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Engine.PassThreshold <= 0 || c.Engine.PassThreshold > 100 {
		return fmt.Errorf("config.engine.pass_threshold must be in (0,100]")
	}
	if c.Engine.SubmitRetries < 1 {
		return fmt.Errorf("config.engine.submit_retries must be >= 1")
	}
	if c.Review.SLAHours <= 0 {
		return fmt.Errorf("config.review.sla_hours must be positive")
	}
	switch c.Review.TimeoutAction {
	case "fail", "downgrade", "notify":
	default:
		return fmt.Errorf("config.review.timeout_action must be fail, downgrade or notify")
	}
	if c.Repository.MinAgeHours < 0 {
		return fmt.Errorf("config.repository.min_age_hours must not be negative")
	}
	if c.Repository.AuthorShare <= 0 || c.Repository.AuthorShare > 1 {
		return fmt.Errorf("config.repository.author_share must be in (0,1]")
	}
	if c.Repository.CommitWindowShare <= 0 || c.Repository.CommitWindowShare > 1 {
		return fmt.Errorf("config.repository.commit_window_share must be in (0,1]")
	}
	if c.Host.TimeoutSecs <= 0 {
		return fmt.Errorf("config.host.timeout_secs must be positive")
	}
	if c.Prevalidate.MaxFileSizeMB <= 0 {
		return fmt.Errorf("config.prevalidate.max_file_size_mb must be positive")
	}
	if c.Prevalidate.ProbeTimeoutSecs <= 0 {
		return fmt.Errorf("config.prevalidate.probe_timeout_secs must be positive")
	}
	if c.Stagnation.InactivityDays <= 0 || c.Stagnation.FailStreak <= 0 || c.Stagnation.LowScoreWindow <= 0 {
		return fmt.Errorf("config.stagnation windows must be positive")
	}
	if len(c.Resume.Templates) == 0 {
		return fmt.Errorf("config.resume.templates must not be empty")
	}
	seen := map[string]bool{}
	for _, tpl := range c.Resume.Templates {
		if tpl.ID == "" {
			return fmt.Errorf("config.resume.templates contains a template without id")
		}
		if seen[tpl.ID] {
			return fmt.Errorf("duplicate resume template id %s", tpl.ID)
		}
		seen[tpl.ID] = true
		if len(tpl.Sections) == 0 {
			return fmt.Errorf("template %s has no sections", tpl.ID)
		}
		for _, s := range tpl.Sections {
			if s.ID == "" {
				return fmt.Errorf("template %s has a section without id", tpl.ID)
			}
			switch s.SortBy {
			case "weight", "score", "date":
			default:
				return fmt.Errorf("template %s section %s: sort_by must be weight, score or date", tpl.ID, s.ID)
			}
			if s.MaxEntries <= 0 {
				return fmt.Errorf("template %s section %s: max_entries must be positive", tpl.ID, s.ID)
			}
			if len(s.ProofTypes) == 0 {
				return fmt.Errorf("template %s section %s: proof_types must not be empty", tpl.ID, s.ID)
			}
		}
	}
	return nil
}

// Template looks up a template by id; empty id resolves to the first template.
func (c *Config) Template(id string) (Template, error) {
	if id == "" {
		return c.Resume.Templates[0], nil
	}
	for _, tpl := range c.Resume.Templates {
		if tpl.ID == id {
			return tpl, nil
		}
	}
	return Template{}, fmt.Errorf("resume template %s not found", id)
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "proofgate.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML decodes a config document, layering it over defaults.
func FromYAML(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
