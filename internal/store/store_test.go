package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/casamocholi/organizer/internal/schema"
)

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) Notify() { n.calls++ }

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "organizer.db")
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustRecord(t *testing.T, fields map[string]any) schema.Record {
	t.Helper()
	r, err := schema.RecordFrom(fields)
	if err != nil {
		t.Fatalf("RecordFrom failed: %v", err)
	}
	return r
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(MemoryPath, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	defer s.Close()

	if err := s.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	var v string
	if err := s.Get(context.Background(), "missing", &v); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSetThenGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "greeting", map[string]string{"text": "hola"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "greeting", map[string]string{"text": "adiós"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got map[string]string
	if err := s.Get(ctx, "greeting", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got["text"] != "adiós" {
		t.Errorf("text = %q, want adiós", got["text"])
	}
}

func TestSetUnencodableValue(t *testing.T) {
	notifier := &countingNotifier{}
	s := openTestStore(t, WithNotifier(notifier))

	err := s.Set(context.Background(), "bad", make(chan int))
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("Set error = %v, want ErrSerialization", err)
	}
	if notifier.calls != 0 {
		t.Errorf("notifier fired %d times for a failed write", notifier.calls)
	}
}

func TestReadFallsBackToDefault(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if got := Read(ctx, s, "missing", 7); got != 7 {
		t.Errorf("Read(missing) = %d, want default 7", got)
	}

	if err := s.Set(ctx, schema.Expenses, "not a list"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	records, err := s.Collection(ctx, schema.Expenses)
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("Collection over unparsable value = %v, want empty", records)
	}
}

func TestWritesNotifyAndObserve(t *testing.T) {
	notifier := &countingNotifier{}
	var observed []string
	s := openTestStore(t,
		WithNotifier(notifier),
		WithWriteObserver(func(name string) { observed = append(observed, name) }),
	)
	ctx := context.Background()

	recs := []schema.Record{mustRecord(t, map[string]any{"id": "1", "title": "Pan"})}
	if err := s.SaveCollection(ctx, schema.ShoppingList, recs); err != nil {
		t.Fatalf("SaveCollection failed: %v", err)
	}
	if notifier.calls != 1 {
		t.Errorf("notifier calls = %d, want 1", notifier.calls)
	}
	if len(observed) != 1 || observed[0] != schema.ShoppingList {
		t.Errorf("observed = %v, want [%s]", observed, schema.ShoppingList)
	}

	if err := s.SaveCollection(ctx, schema.ShoppingList, recs, Silent()); err != nil {
		t.Fatalf("silent SaveCollection failed: %v", err)
	}
	if notifier.calls != 1 || len(observed) != 1 {
		t.Errorf("silent write fired notifier (%d) or observers (%d)", notifier.calls, len(observed))
	}
}

func TestCredentialWritesAreSilent(t *testing.T) {
	notifier := &countingNotifier{}
	s := openTestStore(t, WithNotifier(notifier))
	ctx := context.Background()

	creds, err := s.Credentials(ctx)
	if err != nil {
		t.Fatalf("Credentials failed: %v", err)
	}
	if creds.Configured() {
		t.Fatal("fresh store should have no credentials")
	}

	if err := s.SaveCredentials(ctx, Credentials{Token: "tok", DocumentID: "doc"}); err != nil {
		t.Fatalf("SaveCredentials failed: %v", err)
	}
	creds, err = s.Credentials(ctx)
	if err != nil {
		t.Fatalf("Credentials failed: %v", err)
	}
	if creds.Token != "tok" || creds.DocumentID != "doc" {
		t.Errorf("Credentials() = %+v", creds)
	}
	if notifier.calls != 0 {
		t.Errorf("credential writes notified %d times", notifier.calls)
	}

	if err := s.ClearCredentials(ctx); err != nil {
		t.Fatalf("ClearCredentials failed: %v", err)
	}
	creds, _ = s.Credentials(ctx)
	if creds.Configured() {
		t.Error("credentials survived ClearCredentials")
	}
}

func TestQuotaExceeded(t *testing.T) {
	notifier := &countingNotifier{}
	s := openTestStore(t, WithQuota(64), WithNotifier(notifier))
	ctx := context.Background()

	if err := s.Set(ctx, "small", "ok"); err != nil {
		t.Fatalf("Set under quota failed: %v", err)
	}

	big := make([]byte, 128)
	for i := range big {
		big[i] = 'x'
	}
	err := s.Set(ctx, "big", string(big))
	if !errors.Is(err, ErrQuotaExceeded) || !errors.Is(err, ErrPersistence) {
		t.Fatalf("Set over quota error = %v, want ErrQuotaExceeded wrapping ErrPersistence", err)
	}

	var v string
	if err := s.Get(ctx, "big", &v); !errors.Is(err, ErrNotFound) {
		t.Errorf("rejected write was persisted (Get error = %v)", err)
	}
	if err := s.Get(ctx, "small", &v); err != nil || v != "ok" {
		t.Errorf("previous value changed: %q, %v", v, err)
	}
	if notifier.calls != 1 {
		t.Errorf("notifier calls = %d, want 1", notifier.calls)
	}
}

func TestSnapshotDefaults(t *testing.T) {
	s := openTestStore(t)

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	for _, name := range schema.RecordCollections {
		if recs := snap.Records(name); recs == nil || len(recs) != 0 {
			t.Errorf("%s = %v, want empty", name, recs)
		}
	}
	if snap.MonthlyBudget == nil || snap.MonthlyBudget.Amount != 0 {
		t.Errorf("MonthlyBudget = %+v, want zero", snap.MonthlyBudget)
	}
	if len(snap.WeeklyMenu) != schema.MenuDays {
		t.Errorf("len(WeeklyMenu) = %d, want %d", len(snap.WeeklyMenu), schema.MenuDays)
	}
}

func TestRestoreWritesOnlyPresentCollections(t *testing.T) {
	notifier := &countingNotifier{}
	s := openTestStore(t, WithNotifier(notifier))
	ctx := context.Background()

	kept := []schema.Record{mustRecord(t, map[string]any{"id": "r1", "name": "Paella"})}
	if err := s.SaveCollection(ctx, schema.Recipes, kept, Silent()); err != nil {
		t.Fatalf("SaveCollection failed: %v", err)
	}

	menu := schema.DefaultWeeklyMenu()
	if err := menu.Assign(2, "r1"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	in := schema.Snapshot{
		Expenses:      []schema.Record{mustRecord(t, map[string]any{"id": "e1", "amount": 30})},
		MonthlyBudget: &schema.Budget{Amount: 1200, UpdatedAt: "2024-01-01T00:00:00.000Z"},
		WeeklyMenu:    menu,
	}
	if err := s.Restore(ctx, in); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if notifier.calls != 1 {
		t.Errorf("Restore notified %d times, want 1", notifier.calls)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Expenses) != 1 || snap.Expenses[0].ID() != "e1" {
		t.Errorf("Expenses = %v", snap.Expenses)
	}
	if len(snap.Recipes) != 1 || snap.Recipes[0].ID() != "r1" {
		t.Errorf("absent collection was overwritten: Recipes = %v", snap.Recipes)
	}
	if snap.MonthlyBudget.Amount != 1200 {
		t.Errorf("budget = %v, want 1200", snap.MonthlyBudget.Amount)
	}
	if snap.WeeklyMenu[2] == nil || *snap.WeeklyMenu[2] != "r1" {
		t.Errorf("menu day 2 = %v, want r1", snap.WeeklyMenu[2])
	}
}

func TestRestoreIsAtomicUnderQuota(t *testing.T) {
	s := openTestStore(t, WithQuota(96))
	ctx := context.Background()

	if err := s.SaveBudget(ctx, schema.Budget{Amount: 5}); err != nil {
		t.Fatalf("SaveBudget failed: %v", err)
	}

	var records []schema.Record
	for i := 0; i < 10; i++ {
		records = append(records, mustRecord(t, map[string]any{"id": i, "title": "a long enough title"}))
	}
	err := s.Restore(ctx, schema.Snapshot{
		MonthlyBudget: &schema.Budget{Amount: 9},
		Expenses:      records,
	})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Restore error = %v, want ErrQuotaExceeded", err)
	}
	if got := s.Budget(ctx); got.Amount != 5 {
		t.Errorf("budget = %v after failed restore, want 5", got.Amount)
	}
}

func TestWeeklyMenuLength(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveWeeklyMenu(context.Background(), schema.WeeklyMenu{nil}); err == nil {
		t.Error("expected an error for a one-day menu")
	}
}

func TestUnknownCollection(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Collection(context.Background(), schema.MonthlyBudget); err == nil {
		t.Error("expected an error reading the budget as a record collection")
	}
}

func TestExternalChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "organizer.db")
	quiet := WithLogger(log.New(io.Discard, "", 0))

	a, err := Open(path, quiet)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer a.Close()
	b, err := Open(path, quiet)
	if err != nil {
		t.Fatalf("failed to open second store: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	if changed, err := a.ExternalChange(ctx); err != nil || changed {
		t.Fatalf("baseline ExternalChange = %v, %v; want false, nil", changed, err)
	}

	if err := a.Set(ctx, "own", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if changed, _ := a.ExternalChange(ctx); changed {
		t.Error("own write reported as external")
	}

	if err := b.Set(ctx, "other", 2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if changed, _ := a.ExternalChange(ctx); !changed {
		t.Error("write by another connection not detected")
	}
	if changed, _ := a.ExternalChange(ctx); changed {
		t.Error("change reported twice")
	}
}

func TestValuesPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "organizer.db")
	quiet := WithLogger(log.New(io.Discard, "", 0))
	ctx := context.Background()

	s, err := Open(path, quiet)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	budget := schema.Budget{Amount: 750, UpdatedAt: schema.FormatTime(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))}
	if err := s.SaveBudget(ctx, budget); err != nil {
		t.Fatalf("SaveBudget failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = Open(path, quiet)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	got := s.Budget(ctx)
	if got != budget {
		gotJSON, _ := json.Marshal(got)
		t.Errorf("Budget() = %s, want %+v", gotJSON, budget)
	}
}
