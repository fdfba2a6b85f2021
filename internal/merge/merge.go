// Package merge reconciles a local snapshot with a remote one.
//
// Records are matched by id across the two sides. For each id the newer
// version wins by updatedAt and ties go to the local side. Soft-deleted
// records are ordinary records here, so deletions propagate like edits.
// Merge is pure: it never touches storage or the network.
package merge

import (
	"github.com/casamocholi/organizer/internal/schema"
)

// Merge returns the reconciliation of local and remote.
//
// Every collection of the result is present. Absent inputs are treated as
// their defaults.
func Merge(local, remote schema.Snapshot) schema.Snapshot {
	var out schema.Snapshot
	for _, name := range schema.RecordCollections {
		_ = out.SetRecords(name, Records(local.Records(name), remote.Records(name)))
	}
	out.MonthlyBudget = Budget(local.MonthlyBudget, remote.MonthlyBudget)
	out.WeeklyMenu = Menu(local.WeeklyMenu, remote.WeeklyMenu)
	return out.WithDefaults()
}

// Records merges two record sequences by id. Ids match only when their
// JSON types agree.
//
// The result holds one record per distinct id. Remote ids keep their
// remote position; ids only present locally follow in local order.
// Records without an id are dropped.
func Records(local, remote []schema.Record) []schema.Record {
	out := make([]schema.Record, 0, len(remote)+len(local))
	index := make(map[string]int, len(remote)+len(local))

	for _, r := range remote {
		id := r.Key()
		if id == "" {
			continue
		}
		if i, ok := index[id]; ok {
			out[i] = r.Clone()
			continue
		}
		index[id] = len(out)
		out = append(out, r.Clone())
	}

	for _, l := range local {
		id := l.Key()
		if id == "" {
			continue
		}
		i, ok := index[id]
		if !ok {
			index[id] = len(out)
			out = append(out, l.Clone())
			continue
		}
		// Ties go to local.
		if !l.UpdatedAt().Before(out[i].UpdatedAt()) {
			out[i] = l.Clone()
		}
	}

	return out
}

// Budget picks the remote budget only when it is strictly newer.
func Budget(local, remote *schema.Budget) *schema.Budget {
	var l, r schema.Budget
	if local != nil {
		l = *local
	}
	if remote != nil {
		r = *remote
	}
	if r.UpdatedTime().After(l.UpdatedTime()) {
		return &r
	}
	return &l
}

// Menu keeps the local menu when it has any assignment, otherwise takes
// the remote one.
func Menu(local, remote schema.WeeklyMenu) schema.WeeklyMenu {
	if local.HasAssignment() {
		return normalizeMenu(local)
	}
	if remote == nil {
		return schema.DefaultWeeklyMenu()
	}
	return normalizeMenu(remote)
}

func normalizeMenu(m schema.WeeklyMenu) schema.WeeklyMenu {
	out := schema.DefaultWeeklyMenu()
	copy(out, m.Clone())
	return out
}
