// Command organizer manages the Casa Mocholí family data on this device and
// keeps it in sync with the shared remote document.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "organizer",
	Short: "Family organizer with offline-first sync",
	Long: `organizer keeps the family calendar, expenses, shopping list, bills,
household tasks, recipes and weekly menu on this device and syncs them with
a private remote document shared by every family device.

Every change is saved locally first. When sync is connected, changes are
merged with the remote copy: per record, the most recently updated version
wins, and deletions propagate as tombstones.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Family data:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.organizer/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides data_dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log component activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
