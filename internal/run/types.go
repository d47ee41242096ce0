package run

import (
	"encoding/hex"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Phase is the stage a run has reached.
type Phase string

// Phases in their natural order.
const (
	PhaseScan      Phase = "scan"
	PhaseValidate  Phase = "validate"
	PhasePlan      Phase = "plan"
	PhaseExec      Phase = "exec"
	PhaseVerify    Phase = "verify"
	PhaseCompleted Phase = "completed"
)

var phaseOrder = []Phase{PhaseScan, PhaseValidate, PhasePlan, PhaseExec, PhaseVerify, PhaseCompleted}

// Phases returns every phase in order.
func Phases() []Phase {
	return slices.Clone(phaseOrder)
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return slices.Contains(phaseOrder, p)
}

// CanAdvance reports whether the strict phase machine allows moving from p
// to next: staying put or stepping to the following phase.
func (p Phase) CanAdvance(next Phase) bool {
	from := slices.Index(phaseOrder, p)
	to := slices.Index(phaseOrder, next)
	if from < 0 || to < 0 {
		return false
	}
	return to == from || to == from+1
}

// Meta is a run's meta.json.
type Meta struct {
	ID              string    `json:"id" yaml:"id" validate:"required"`
	Name            string    `json:"name,omitempty" yaml:"name,omitempty"`
	Scope           string    `json:"scope,omitempty" yaml:"scope,omitempty"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
	Phase           Phase     `json:"phase" yaml:"phase" validate:"required"`
	IssuesFound     int       `json:"issues_found" yaml:"issues_found" validate:"gte=0"`
	IssuesValidated int       `json:"issues_validated" yaml:"issues_validated" validate:"gte=0"`
	TasksTotal      int       `json:"tasks_total" yaml:"tasks_total" validate:"gte=0"`
	TasksCompleted  int       `json:"tasks_completed" yaml:"tasks_completed" validate:"gte=0"`
	TasksFailed     int       `json:"tasks_failed" yaml:"tasks_failed" validate:"gte=0"`
}

// Summary is a run's entry in runs_index.json.
type Summary struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	Scope     string    `json:"scope,omitempty" yaml:"scope,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Phase     Phase     `json:"phase" yaml:"phase"`
}

// Index is runs_index.json. CurrentRun is nil or names an entry of Runs.
type Index struct {
	CurrentRun *string   `json:"current_run"`
	Runs       []Summary `json:"runs"`
}

func (idx *Index) find(id string) int {
	return slices.IndexFunc(idx.Runs, func(s Summary) bool { return s.ID == id })
}

// current returns the current run id, or "" when unset or dangling.
func (idx *Index) current() string {
	if idx.CurrentRun == nil || idx.find(*idx.CurrentRun) < 0 {
		return ""
	}
	return *idx.CurrentRun
}

func (idx *Index) setCurrent(id string) {
	if id == "" {
		idx.CurrentRun = nil
		return
	}
	idx.CurrentRun = &id
}

// StatsPatch overwrites the counters that are set.
type StatsPatch struct {
	IssuesFound     *int
	IssuesValidated *int
	TasksTotal      *int
	TasksCompleted  *int
	TasksFailed     *int
}

// StatsDelta adds to the counters. Results below zero are clamped to zero.
type StatsDelta struct {
	IssuesFound     int
	IssuesValidated int
	TasksTotal      int
	TasksCompleted  int
	TasksFailed     int
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLen = 24

// Slug lowercases hint and collapses everything outside [a-z0-9] into
// single dashes, capped at 24 characters.
func Slug(hint string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(hint), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	return s
}

// NewID returns "YYYYMMDD-HHMMSS-{slug}-{6 hex}", omitting the slug when
// hint has none.
func NewID(now time.Time, hint string) string {
	u := uuid.New()
	suffix := hex.EncodeToString(u[:3])
	stamp := now.UTC().Format("20060102-150405")
	if slug := Slug(hint); slug != "" {
		return stamp + "-" + slug + "-" + suffix
	}
	return stamp + "-" + suffix
}
