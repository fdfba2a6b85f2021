package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/casamocholi/organizer/internal/schema"
	"github.com/casamocholi/organizer/internal/ui"
)

var collectionsHelp = "Collections: " + strings.Join(schema.RecordCollections, ", ")

func mustRecordCollection(name string) {
	if !schema.IsRecordCollection(name) {
		fmt.Fprintf(os.Stderr, "Error: unknown collection %q\n%s\n", name, collectionsHelp)
		os.Exit(1)
	}
}

var addCmd = &cobra.Command{
	Use:     "add <collection> [title]",
	GroupID: "data",
	Short:   "Add a record to a collection",
	Long: `Add a record to a collection. The record gets a new id and is
stamped with the current time.

` + collectionsHelp + `

Examples:
  organizer add calendar_events "Cumpleaños de la abuela" --at "next saturday"
  organizer add expenses Supermercado --set amount=42.5 --set category=food
  organizer add recipes Paella --set servings=4`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		collection := args[0]
		mustRecordCollection(collection)

		pairs, _ := cmd.Flags().GetStringArray("set")
		fields, err := parseAssignments(pairs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(args) > 1 {
			fields[titleField(collection)] = args[1]
		}

		now := time.Now()
		if at, _ := cmd.Flags().GetString("at"); at != "" {
			t, err := parseWhen(at, now)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if collection == schema.CalendarEvents {
				fields["date"] = t.Format("2006-01-02")
			} else {
				fields["date"] = schema.FormatTime(t)
			}
		}

		record, err := schema.NewRecord(fields, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := mustOpenApp()
		defer a.Close()
		ctx := cmd.Context()

		records, err := a.store.Collection(ctx, collection)
		if err != nil {
			a.fatalf("Error reading %s: %v\n", collection, err)
		}
		if err := a.store.SaveCollection(ctx, collection, append(records, record)); err != nil {
			a.fatalf("Error saving %s: %v\n", collection, err)
		}

		fmt.Printf("%s Added %s to %s\n", ui.RenderPass("✓"), record.ID(), collection)
		flushOrWarn(ctx, a)
	},
}

var listCmd = &cobra.Command{
	Use:     "list <collection>",
	GroupID: "data",
	Short:   "List the records of a collection",
	Long:    "List the records of a collection.\n\n" + collectionsHelp,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		collection := args[0]
		mustRecordCollection(collection)
		all, _ := cmd.Flags().GetBool("all")

		a := mustOpenApp()
		defer a.Close()

		records, err := a.store.Collection(cmd.Context(), collection)
		if err != nil {
			a.fatalf("Error reading %s: %v\n", collection, err)
		}
		if !all {
			records = schema.Live(records)
		}
		if len(records) == 0 {
			fmt.Printf("No %s\n", strings.ReplaceAll(collection, "_", " "))
			return
		}

		for _, r := range records {
			fmt.Println(formatRecord(collection, r))
		}
	},
}

// formatRecord renders one listing line.
func formatRecord(collection string, r schema.Record) string {
	var title string
	r.Get(titleField(collection), &title)

	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %s", r.ID(), title)

	var date string
	if r.Get("date", &date) && date != "" {
		fmt.Fprintf(&b, "  %s", ui.RenderMuted(date))
	}
	var amount float64
	if r.Get("amount", &amount) {
		fmt.Fprintf(&b, "  %.2f€", amount)
	}
	if r.Deleted() {
		fmt.Fprintf(&b, "  %s", ui.RenderWarn("deleted"))
	}
	return b.String()
}

var deleteCmd = &cobra.Command{
	Use:     "delete <collection> <id>",
	GroupID: "data",
	Short:   "Delete a record",
	Long: `Delete a record. The record is kept as a deletion marker so that the
deletion reaches every device on the next sync.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		collection, id := args[0], args[1]
		mustRecordCollection(collection)

		a := mustOpenApp()
		defer a.Close()
		ctx := cmd.Context()

		records, err := a.store.Collection(ctx, collection)
		if err != nil {
			a.fatalf("Error reading %s: %v\n", collection, err)
		}
		record, _ := schema.Find(records, id)
		if record == nil || record.Deleted() {
			a.fatalf("Error: no %s record with id %s\n", collection, id)
		}
		if err := record.SoftDelete(time.Now()); err != nil {
			a.fatalf("Error: %v\n", err)
		}
		if err := a.store.SaveCollection(ctx, collection, records); err != nil {
			a.fatalf("Error saving %s: %v\n", collection, err)
		}

		fmt.Printf("%s Deleted %s from %s\n", ui.RenderPass("✓"), id, collection)
		flushOrWarn(ctx, a)
	},
}

var menuCmd = &cobra.Command{
	Use:     "menu",
	GroupID: "data",
	Short:   "Show or plan the weekly menu",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()
		ctx := cmd.Context()

		menu := a.store.WeeklyMenu(ctx)
		recipes, _ := a.store.Collection(ctx, schema.Recipes)

		names := []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
		for i, name := range names {
			fmt.Printf("%-10s ", name)
			if i >= len(menu) || menu[i] == nil {
				fmt.Println(ui.RenderMuted("-"))
				continue
			}
			label := *menu[i]
			if r, _ := schema.Find(recipes, label); r != nil {
				r.Get("name", &label)
			}
			fmt.Println(label)
		}
	},
}

var menuSetCmd = &cobra.Command{
	Use:   "set <day> <recipe-id|none>",
	Short: "Assign a recipe to a day of the weekly menu",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		day, err := parseDay(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := mustOpenApp()
		defer a.Close()
		ctx := cmd.Context()

		menu := a.store.WeeklyMenu(ctx).Clone()
		recipeID := args[1]
		if strings.EqualFold(recipeID, "none") {
			recipeID = ""
		}
		if err := menu.Assign(day, recipeID); err != nil {
			a.fatalf("Error: %v\n", err)
		}
		if err := a.store.SaveWeeklyMenu(ctx, menu); err != nil {
			a.fatalf("Error saving menu: %v\n", err)
		}

		fmt.Printf("%s Menu updated\n", ui.RenderPass("✓"))
		flushOrWarn(ctx, a)
	},
}

var budgetCmd = &cobra.Command{
	Use:     "budget",
	GroupID: "data",
	Short:   "Show or set the monthly budget",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		b := a.store.Budget(cmd.Context())
		fmt.Printf("Monthly budget: %.2f€\n", b.Amount)
		if b.UpdatedAt != "" {
			fmt.Printf("Updated: %s\n", ui.RenderMuted(b.UpdatedAt))
		}
	},
}

var budgetSetCmd = &cobra.Command{
	Use:   "set <amount>",
	Short: "Set the monthly budget",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		amount, err := strconv.ParseFloat(strings.Replace(args[0], ",", ".", 1), 64)
		if err != nil || amount < 0 {
			fmt.Fprintf(os.Stderr, "Error: invalid amount %q\n", args[0])
			os.Exit(1)
		}

		a := mustOpenApp()
		defer a.Close()
		ctx := cmd.Context()

		b := schema.Budget{Amount: amount, UpdatedAt: schema.FormatTime(time.Now())}
		if err := a.store.SaveBudget(ctx, b); err != nil {
			a.fatalf("Error saving budget: %v\n", err)
		}

		fmt.Printf("%s Monthly budget set to %.2f€\n", ui.RenderPass("✓"), amount)
		flushOrWarn(ctx, a)
	},
}

// flushOrWarn pushes a local change right away, warning when the sync
// fails. The change stays saved locally either way.
func flushOrWarn(ctx context.Context, a *app) {
	if err := a.flush(ctx); err != nil {
		fmt.Printf("%s Saved locally; sync failed: %v\n", ui.RenderWarn("⚠"), err)
	}
}

func init() {
	addCmd.Flags().StringArray("set", nil, "field to set, as key=value (repeatable)")
	addCmd.Flags().String("at", "", "date, e.g. 2024-06-01 or \"next friday\"")
	listCmd.Flags().Bool("all", false, "include deleted records")

	menuCmd.AddCommand(menuSetCmd)
	budgetCmd.AddCommand(budgetSetCmd)
	rootCmd.AddCommand(addCmd, listCmd, deleteCmd, menuCmd, budgetCmd)
}
