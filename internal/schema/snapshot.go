package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Collection names. They double as local persistence keys and as keys of
// the remote document.
const (
	CalendarEvents    = "calendar_events"
	Expenses          = "expenses"
	ShoppingList      = "shopping_list"
	RecurringBills    = "recurring_bills"
	HouseholdTasks    = "household_tasks"
	ExpenseCategories = "expense_categories"
	MonthlyBudget     = "monthly_budget"
	Recipes           = "recipes"
	WeeklyMenuKey     = "weekly_menu"
)

// RecordCollections lists the collections that hold record sequences, in
// the order they appear in a snapshot.
var RecordCollections = []string{
	CalendarEvents,
	Expenses,
	ShoppingList,
	RecurringBills,
	HouseholdTasks,
	ExpenseCategories,
	Recipes,
}

// AllCollections lists every collection name.
var AllCollections = []string{
	CalendarEvents,
	Expenses,
	ShoppingList,
	RecurringBills,
	HouseholdTasks,
	ExpenseCategories,
	MonthlyBudget,
	Recipes,
	WeeklyMenuKey,
}

// IsRecordCollection reports whether name holds a record sequence.
func IsRecordCollection(name string) bool {
	for _, c := range RecordCollections {
		if c == name {
			return true
		}
	}
	return false
}

// MenuDays is the number of slots in the weekly menu.
const MenuDays = 7

// WeeklyMenu holds one nullable recipe id per weekday, Monday first.
type WeeklyMenu []*string

// DefaultWeeklyMenu returns a menu with every day unassigned.
func DefaultWeeklyMenu() WeeklyMenu {
	return make(WeeklyMenu, MenuDays)
}

// HasAssignment reports whether any day has a recipe.
func (m WeeklyMenu) HasAssignment() bool {
	for _, slot := range m {
		if slot != nil {
			return true
		}
	}
	return false
}

// Assign sets the recipe for day (0 = Monday). An empty recipeID clears it.
func (m WeeklyMenu) Assign(day int, recipeID string) error {
	if day < 0 || day >= len(m) {
		return fmt.Errorf("day must be between 0 and %d (got %d)", len(m)-1, day)
	}
	if recipeID == "" {
		m[day] = nil
		return nil
	}
	id := recipeID
	m[day] = &id
	return nil
}

// Clone returns a copy of the menu that shares no slots with m.
func (m WeeklyMenu) Clone() WeeklyMenu {
	if m == nil {
		return nil
	}
	dup := make(WeeklyMenu, len(m))
	for i, slot := range m {
		if slot != nil {
			id := *slot
			dup[i] = &id
		}
	}
	return dup
}

// Budget is the monthly budget, a single amount with its own timestamp.
type Budget struct {
	Amount    float64 `json:"amount"`
	UpdatedAt string  `json:"updatedAt,omitempty"`
}

// UpdatedTime parses UpdatedAt; missing means the zero time.
func (b Budget) UpdatedTime() time.Time {
	return ParseTime(b.UpdatedAt)
}

// Snapshot is the full set of collections at one point in time.
//
// Nil fields are collections absent from the source document.
type Snapshot struct {
	CalendarEvents    []Record   `json:"calendar_events"`
	Expenses          []Record   `json:"expenses"`
	ShoppingList      []Record   `json:"shopping_list"`
	RecurringBills    []Record   `json:"recurring_bills"`
	HouseholdTasks    []Record   `json:"household_tasks"`
	ExpenseCategories []Record   `json:"expense_categories"`
	MonthlyBudget     *Budget    `json:"monthly_budget"`
	Recipes           []Record   `json:"recipes"`
	WeeklyMenu        WeeklyMenu `json:"weekly_menu"`
}

// ParseSnapshot decodes a serialized snapshot.
func ParseSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return snap, nil
}

// Records returns the record sequence stored under name, or nil when name
// is not a record collection.
func (s *Snapshot) Records(name string) []Record {
	switch name {
	case CalendarEvents:
		return s.CalendarEvents
	case Expenses:
		return s.Expenses
	case ShoppingList:
		return s.ShoppingList
	case RecurringBills:
		return s.RecurringBills
	case HouseholdTasks:
		return s.HouseholdTasks
	case ExpenseCategories:
		return s.ExpenseCategories
	case Recipes:
		return s.Recipes
	}
	return nil
}

// SetRecords replaces the record sequence stored under name.
func (s *Snapshot) SetRecords(name string, records []Record) error {
	switch name {
	case CalendarEvents:
		s.CalendarEvents = records
	case Expenses:
		s.Expenses = records
	case ShoppingList:
		s.ShoppingList = records
	case RecurringBills:
		s.RecurringBills = records
	case HouseholdTasks:
		s.HouseholdTasks = records
	case ExpenseCategories:
		s.ExpenseCategories = records
	case Recipes:
		s.Recipes = records
	default:
		return fmt.Errorf("%q is not a record collection", name)
	}
	return nil
}

// WithDefaults returns a copy of s where every absent collection holds its
// documented default: an empty sequence, a zero budget, or an empty menu.
func (s Snapshot) WithDefaults() Snapshot {
	out := s
	for _, name := range RecordCollections {
		if out.Records(name) == nil {
			_ = out.SetRecords(name, []Record{})
		}
	}
	if out.MonthlyBudget == nil {
		out.MonthlyBudget = &Budget{}
	}
	if out.WeeklyMenu == nil {
		out.WeeklyMenu = DefaultWeeklyMenu()
	}
	return out
}

// Count returns the number of records across all record collections,
// tombstones included.
func (s Snapshot) Count() int {
	n := 0
	for _, name := range RecordCollections {
		n += len(s.Records(name))
	}
	return n
}
