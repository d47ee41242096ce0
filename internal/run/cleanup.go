package run

import (
	"context"
	"time"

	"github.com/Iron-Ham/milhouse/internal/errors"
)

// Cleanup reasons.
const (
	ReasonCurrent        = "current"
	ReasonWithinKeepLast = "within keep-last"
	ReasonRecent         = "recent"
	ReasonOlderThan      = "older than"
	ReasonBeyondKeepLast = "beyond keep-last"
)

// CleanupOptions selects runs to delete. Zero OlderThan and KeepLast
// disable the respective rule.
type CleanupOptions struct {
	// OlderThan deletes runs created longer ago than this.
	OlderThan time.Duration
	// KeepLast keeps the newest KeepLast runs and deletes the rest.
	KeepLast int
	// IncludeCurrent allows the current run to be deleted. By default it
	// is always kept.
	IncludeCurrent bool
	// DryRun reports what would happen without deleting anything.
	DryRun bool
}

// CleanupEntry is one run's cleanup decision.
type CleanupEntry struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Reason    string    `json:"reason" yaml:"reason"`
}

// CleanupReport lists deleted and kept runs.
type CleanupReport struct {
	DryRun  bool           `json:"dry_run" yaml:"dry_run"`
	Deleted []CleanupEntry `json:"deleted" yaml:"deleted"`
	Kept    []CleanupEntry `json:"kept" yaml:"kept"`
}

// CleanupOldRuns walks runs newest first. The current run is kept unless
// IncludeCurrent is set, the newest KeepLast runs are kept, and the rest
// are deleted when older than OlderThan or beyond KeepLast. Failures to
// delete individual runs are logged and returned together after the walk.
func (r *Registry) CleanupOldRuns(ctx context.Context, opts CleanupOptions) (*CleanupReport, error) {
	runs, err := r.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	current, err := r.CurrentRunID(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	report := &CleanupReport{DryRun: opts.DryRun, Deleted: []CleanupEntry{}, Kept: []CleanupEntry{}}
	var errs []error

	for i, s := range runs {
		entry := CleanupEntry{ID: s.ID, Name: s.Name, CreatedAt: s.CreatedAt}
		switch {
		case s.ID == current && !opts.IncludeCurrent:
			entry.Reason = ReasonCurrent
		case opts.KeepLast > 0 && i < opts.KeepLast:
			entry.Reason = ReasonWithinKeepLast
		case opts.OlderThan > 0 && now.Sub(s.CreatedAt) > opts.OlderThan:
			entry.Reason = ReasonOlderThan
		case opts.KeepLast > 0:
			entry.Reason = ReasonBeyondKeepLast
		default:
			entry.Reason = ReasonRecent
		}

		if entry.Reason != ReasonOlderThan && entry.Reason != ReasonBeyondKeepLast {
			report.Kept = append(report.Kept, entry)
			continue
		}
		if !opts.DryRun {
			if _, err := r.DeleteRun(ctx, s.ID); err != nil {
				r.logger.WithRun(s.ID).Warn("failed to delete run during cleanup", "error", err)
				errs = append(errs, err)
				continue
			}
		}
		report.Deleted = append(report.Deleted, entry)
	}

	if len(report.Deleted) > 0 {
		r.logger.Info("run cleanup finished",
			"deleted", len(report.Deleted), "kept", len(report.Kept), "dry_run", opts.DryRun)
	}
	return report, errors.Join(errs...)
}
