package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/casamocholi/organizer/internal/daemon"
	"github.com/casamocholi/organizer/internal/dashboard"
	"github.com/casamocholi/organizer/internal/orchestrator"
	"github.com/casamocholi/organizer/internal/schema"
	"github.com/casamocholi/organizer/internal/store"
	"github.com/casamocholi/organizer/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Merge local data with the remote document now",
	Long: `Download the remote document, merge it with the local data, save the
result locally and upload it.

Per record, the copy with the newer updatedAt wins; a tie keeps the local
copy. The monthly budget follows the same rule, and the weekly menu keeps
the local plan whenever it has any assignment.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		fmt.Printf("%s Syncing...\n", ui.RenderAccent("🔄"))
		start := time.Now()

		if err := a.sync.SyncNow(cmd.Context()); err != nil {
			if errors.Is(err, orchestrator.ErrDisconnected) {
				fmt.Printf("%s Sync is not connected\n", ui.RenderWarn("⚠"))
				fmt.Printf("   Run 'organizer connect' to link this device\n")
				return
			}
			a.fatalf("Error during sync: %v\n", err)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync configuration and local data",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()
		ctx := cmd.Context()

		creds, err := a.store.Credentials(ctx)
		if err != nil {
			a.fatalf("Error reading credentials: %v\n", err)
		}
		snap, err := a.store.Snapshot(ctx)
		if err != nil {
			a.fatalf("Error reading local data: %v\n", err)
		}

		fmt.Printf("\n%s Organizer Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Database: %s\n", a.store.Path())
		switch {
		case creds.Configured():
			fmt.Printf("Sync: %s\n", ui.RenderPass("connected"))
			fmt.Printf("Document: %s\n", documentURL(creds.DocumentID))
		case creds.Token != "":
			fmt.Printf("Sync: %s (token saved, no document)\n", ui.RenderWarn("incomplete"))
		default:
			fmt.Printf("Sync: %s\n", ui.RenderStatus(string(orchestrator.StatusDisconnected)))
		}

		fmt.Printf("\n%s\n", ui.RenderTitle("Collections"))
		for _, name := range schema.RecordCollections {
			records := snap.Records(name)
			live := len(schema.Live(records))
			fmt.Printf("  %-20s %d", name, live)
			if deleted := len(records) - live; deleted > 0 {
				fmt.Printf(" %s", ui.RenderMuted(fmt.Sprintf("(+%d deleted)", deleted)))
			}
			fmt.Println()
		}
		fmt.Printf("  %-20s %.2f\n", schema.MonthlyBudget, snap.MonthlyBudget.Amount)
		fmt.Printf("  %-20s %d/%d days planned\n", schema.WeeklyMenuKey, plannedDays(snap.WeeklyMenu), schema.MenuDays)
		fmt.Println()
	},
}

func plannedDays(menu schema.WeeklyMenu) int {
	n := 0
	for _, day := range menu {
		if day != nil {
			n++
		}
	}
	return n
}

var connectCmd = &cobra.Command{
	Use:     "connect",
	GroupID: "sync",
	Short:   "Link this device to the shared remote document",
	Long: `Save an access token and link this device to the remote document.

Without --document-id (and with no document linked yet) a new private
document is created from the local data. With --document-id the existing
document is linked and merged with the local data.

The token is read from --token, then ORGANIZER_TOKEN, then prompted for
when running in a terminal.`,
	Run: func(cmd *cobra.Command, args []string) {
		token, _ := cmd.Flags().GetString("token")
		documentID, _ := cmd.Flags().GetString("document-id")
		if token == "" {
			token = os.Getenv("ORGANIZER_TOKEN")
		}
		if token == "" && ui.IsTerminal(os.Stdin) {
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title("Access token").
					Description("A token allowed to create and edit private documents").
					EchoMode(huh.EchoModePassword).
					Value(&token),
				huh.NewInput().
					Title("Document id").
					Description("Leave empty to create a new document").
					Value(&documentID),
			))
			if err := form.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		token = strings.TrimSpace(token)
		if token == "" {
			fmt.Fprintf(os.Stderr, "Error: a token is required (use --token or ORGANIZER_TOKEN)\n")
			os.Exit(1)
		}

		a := mustOpenApp()
		defer a.Close()
		ctx := cmd.Context()

		if documentID = strings.TrimSpace(documentID); documentID != "" {
			if err := a.store.SaveCredentials(ctx, store.Credentials{Token: token, DocumentID: documentID}); err != nil {
				a.fatalf("Error saving credentials: %v\n", err)
			}
		}

		id, err := a.sync.Connect(ctx, token)
		if err != nil {
			a.fatalf("Error connecting: %v\n", err)
		}

		fmt.Printf("%s Connected\n", ui.RenderPass("✓"))
		fmt.Printf("   Document: %s\n", documentURL(id))
		fmt.Printf("   Use 'organizer connect --document-id %s' on the other devices\n", id)
	},
}

var disconnectCmd = &cobra.Command{
	Use:     "disconnect",
	GroupID: "sync",
	Short:   "Forget the saved token and document",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		if err := a.store.ClearCredentials(cmd.Context()); err != nil {
			a.fatalf("Error clearing credentials: %v\n", err)
		}
		fmt.Printf("%s Disconnected; local data is kept\n", ui.RenderPass("✓"))
	},
}

var downloadCmd = &cobra.Command{
	Use:     "download",
	GroupID: "sync",
	Short:   "Replace local collections with the remote document's",
	Long: `Download the remote document and overwrite the local collections it
contains, without merging. Collections missing from the remote document are
left alone. Nothing is uploaded.`,
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && ui.IsTerminal(os.Stdin) {
			confirmed := false
			prompt := huh.NewConfirm().
				Title("Overwrite local data with the remote copy?").
				Affirmative("Overwrite").
				Negative("Cancel").
				Value(&confirmed)
			if err := huh.NewForm(huh.NewGroup(prompt)).Run(); err != nil || !confirmed {
				fmt.Println("Cancelled")
				return
			}
		}

		a := mustOpenApp()
		defer a.Close()

		if err := a.sync.Download(cmd.Context()); err != nil {
			a.fatalf("Error downloading: %v\n", err)
		}
		fmt.Printf("%s Local data replaced with the remote copy\n", ui.RenderPass("✓"))
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon with the live dashboard (foreground)",
	Long: `Run in the foreground, keeping this device in sync.

The daemon will:
  1. Sync once on start
  2. Watch the local database for changes made by other organizer commands
  3. Sync a few seconds after the last change
  4. Serve the live dashboard (WebSocket updates, status, metrics)`,
	Run: func(cmd *cobra.Command, args []string) {
		verbose = true
		a := mustOpenApp()
		defer a.Close()

		port := a.cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		server := dashboard.NewServer(a.store, a.sync, a.bus, &dashboard.Config{
			Port:    port,
			Metrics: a.metrics.Handler(),
			Clients: a.metrics.LiveClients,
			Logger:  a.logs.Logger("dashboard"),
		})
		if err := server.Start(); err != nil {
			a.fatalf("Error: failed to start dashboard: %v\n", err)
		}
		defer server.Stop()

		d, err := daemon.NewWithConfig(a.store, a.sync, a.bus, &daemon.Config{
			DebounceInterval: 200 * time.Millisecond,
			PollInterval:     5 * time.Second,
			Logger:           a.logs.Logger("daemon"),
		})
		if err != nil {
			server.Stop()
			a.fatalf("Error creating daemon: %v\n", err)
		}

		fmt.Printf("%s Daemon running\n", ui.RenderAccent("🔄"))
		fmt.Printf("   Dashboard: http://%s\n", server.GetAddr())
		fmt.Printf("   WebSocket: ws://%s/ws\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		if err := d.Start(ctx); err != nil {
			server.Stop()
			a.fatalf("Error: %v\n", err)
		}
	},
}

// mustOpenApp wires the app or exits.
func mustOpenApp() *app {
	a, err := openApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

func init() {
	connectCmd.Flags().String("token", "", "access token")
	connectCmd.Flags().String("document-id", "", "link an existing document instead of creating one")
	downloadCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	daemonCmd.Flags().Int("port", 8080, "dashboard port (default from config)")

	rootCmd.AddCommand(syncCmd, statusCmd, connectCmd, disconnectCmd, downloadCmd, daemonCmd)
}
