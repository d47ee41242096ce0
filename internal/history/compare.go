package history

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/paths"
)

// Diff is the record-level difference between two snapshots of the same
// state type. Records are matched by their "id" field.
type Diff struct {
	From    string   `json:"from" yaml:"from"`
	To      string   `json:"to" yaml:"to"`
	Added   []string `json:"added" yaml:"added"`
	Removed []string `json:"removed" yaml:"removed"`
	Changed []string `json:"changed" yaml:"changed"`
}

// Empty reports whether the snapshots hold the same records.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare diffs snapshot from against snapshot to. Ids are listed in the
// order they appear in the snapshot that holds them.
func (s *Store) Compare(ctx context.Context, runID string, key paths.FileKey, from, to string) (*Diff, error) {
	a, err := s.mustLoad(ctx, runID, key, from)
	if err != nil {
		return nil, err
	}
	b, err := s.mustLoad(ctx, runID, key, to)
	if err != nil {
		return nil, err
	}

	before, beforeOrder, err := recordsByID(a.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot %s", from)
	}
	after, afterOrder, err := recordsByID(b.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot %s", to)
	}

	d := &Diff{From: from, To: to, Added: []string{}, Removed: []string{}, Changed: []string{}}
	for _, id := range afterOrder {
		old, ok := before[id]
		switch {
		case !ok:
			d.Added = append(d.Added, id)
		case !bytes.Equal(old, after[id]):
			d.Changed = append(d.Changed, id)
		}
	}
	for _, id := range beforeOrder {
		if _, ok := after[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	return d, nil
}

func (s *Store) mustLoad(ctx context.Context, runID string, key paths.FileKey, id string) (*Snapshot, error) {
	snap, err := s.LoadSnapshot(ctx, runID, key, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errors.NewNotFoundError("snapshot", id).WithCause(errors.ErrSnapshotNotFound)
	}
	return snap, nil
}

// recordsByID indexes an array of objects by "id". Each record is
// re-encoded so key order and whitespace do not count as changes.
func recordsByID(data json.RawMessage) (map[string][]byte, []string, error) {
	var records []map[string]json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, nil, errors.NewParseError("", err)
	}
	byID := make(map[string][]byte, len(records))
	order := make([]string, 0, len(records))
	for _, rec := range records {
		var id string
		if err := json.Unmarshal(rec["id"], &id); err != nil || id == "" {
			continue
		}
		canonical, err := json.Marshal(rec)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := byID[id]; !dup {
			order = append(order, id)
		}
		byID[id] = canonical
	}
	return byID, order, nil
}
