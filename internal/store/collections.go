package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/casamocholi/organizer/internal/schema"
)

// Collection returns the records stored under name, or an empty sequence
// when the collection is absent or unparsable.
func (s *Store) Collection(ctx context.Context, name string) ([]schema.Record, error) {
	if !schema.IsRecordCollection(name) {
		return nil, fmt.Errorf("unknown collection %q", name)
	}
	return Read(ctx, s, name, []schema.Record{}), nil
}

// SaveCollection replaces the records stored under name.
func (s *Store) SaveCollection(ctx context.Context, name string, records []schema.Record, opts ...WriteOption) error {
	if !schema.IsRecordCollection(name) {
		return fmt.Errorf("unknown collection %q", name)
	}
	if records == nil {
		records = []schema.Record{}
	}
	return s.Set(ctx, name, records, opts...)
}

// Budget returns the monthly budget, zero when absent.
func (s *Store) Budget(ctx context.Context) schema.Budget {
	return Read(ctx, s, schema.MonthlyBudget, schema.Budget{})
}

// SaveBudget replaces the monthly budget.
func (s *Store) SaveBudget(ctx context.Context, b schema.Budget, opts ...WriteOption) error {
	return s.Set(ctx, schema.MonthlyBudget, b, opts...)
}

// WeeklyMenu returns the weekly menu, all days unassigned when absent.
func (s *Store) WeeklyMenu(ctx context.Context) schema.WeeklyMenu {
	menu := Read(ctx, s, schema.WeeklyMenuKey, schema.DefaultWeeklyMenu())
	if menu == nil {
		return schema.DefaultWeeklyMenu()
	}
	return menu
}

// SaveWeeklyMenu replaces the weekly menu.
func (s *Store) SaveWeeklyMenu(ctx context.Context, menu schema.WeeklyMenu, opts ...WriteOption) error {
	if len(menu) != schema.MenuDays {
		return fmt.Errorf("weekly menu must have %d days (got %d)", schema.MenuDays, len(menu))
	}
	return s.Set(ctx, schema.WeeklyMenuKey, menu, opts...)
}

// Snapshot reads every collection, applying defaults for absent or
// unparsable values.
func (s *Store) Snapshot(ctx context.Context) (schema.Snapshot, error) {
	placeholders := make([]string, len(schema.AllCollections))
	args := make([]any, len(schema.AllCollections))
	for i, name := range schema.AllCollections {
		placeholders[i] = "?"
		args[i] = name
	}

	query := fmt.Sprintf(`SELECT name, value FROM kv WHERE name IN (%s)`, strings.Join(placeholders, ", "))
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	defer rows.Close()

	var snap schema.Snapshot
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return schema.Snapshot{}, fmt.Errorf("failed to scan collection: %w", err)
		}
		if err := decodeInto(&snap, name, []byte(value)); err != nil {
			s.logger.Printf("Error reading %s from storage, using default: %v", name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return schema.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	return snap.WithDefaults(), nil
}

func decodeInto(snap *schema.Snapshot, name string, value []byte) error {
	switch name {
	case schema.MonthlyBudget:
		var b schema.Budget
		if err := json.Unmarshal(value, &b); err != nil {
			return err
		}
		snap.MonthlyBudget = &b
	case schema.WeeklyMenuKey:
		var menu schema.WeeklyMenu
		if err := json.Unmarshal(value, &menu); err != nil {
			return err
		}
		snap.WeeklyMenu = menu
	default:
		var records []schema.Record
		if err := json.Unmarshal(value, &records); err != nil {
			return err
		}
		return snap.SetRecords(name, records)
	}
	return nil
}

// Restore writes every collection present in snap, in one transaction.
// Absent collections keep their current value. A single notification
// follows a successful non-silent restore.
func (s *Store) Restore(ctx context.Context, snap schema.Snapshot, opts ...WriteOption) error {
	var entries []entry
	add := func(name string, value any) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%w: failed to encode %s: %v", ErrSerialization, name, err)
		}
		entries = append(entries, entry{name: name, value: data})
		return nil
	}

	for _, name := range schema.RecordCollections {
		if records := snap.Records(name); records != nil {
			if err := add(name, records); err != nil {
				return err
			}
		}
	}
	if snap.MonthlyBudget != nil {
		if err := add(schema.MonthlyBudget, snap.MonthlyBudget); err != nil {
			return err
		}
	}
	if snap.WeeklyMenu != nil {
		if err := add(schema.WeeklyMenuKey, snap.WeeklyMenu); err != nil {
			return err
		}
	}

	if len(entries) == 0 {
		return nil
	}
	if err := s.write(ctx, entries); err != nil {
		return err
	}

	if !collectWriteOptions(opts).silent {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.name
		}
		s.afterWrite(names)
	}
	return nil
}
