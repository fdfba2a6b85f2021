package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/casamocholi/organizer/internal/backup"
	"github.com/casamocholi/organizer/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [path]",
	GroupID: "data",
	Short:   "Export all local data to a JSON backup",
	Long: `Export every collection to a JSON file. The file has the same layout as
the remote document.

With no path, or a directory, the file is named backup_familia_YYYY-MM-DD.json.
Use "-" to write to stdout.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}

		a := mustOpenApp()
		defer a.Close()
		ctx := cmd.Context()

		if path == "-" {
			if err := backup.Export(ctx, a.store, os.Stdout); err != nil {
				a.fatalf("Error exporting: %v\n", err)
			}
			return
		}

		written, err := backup.ExportFile(ctx, a.store, path, time.Now())
		if err != nil {
			a.fatalf("Error exporting: %v\n", err)
		}
		fmt.Printf("%s Exported to %s\n", ui.RenderPass("✓"), written)
	},
}

var importCmd = &cobra.Command{
	Use:     "import <path>",
	GroupID: "data",
	Short:   "Restore local data from a JSON backup",
	Long: `Restore collections from a JSON backup. Only the collections present in
the file are replaced; the others keep their current data.

Before overwriting, the current data is exported to the backups directory
inside the data directory (disable with --no-backup).`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		noBackup, _ := cmd.Flags().GetBool("no-backup")

		a := mustOpenApp()
		defer a.Close()
		ctx := cmd.Context()

		opts := backup.ImportOptions{DryRun: dryRun}
		if !noBackup {
			opts.BackupDir = filepath.Join(a.cfg.DataDir, "backups")
		}

		result, err := backup.ImportFile(ctx, a.store, args[0], opts)
		if err != nil {
			a.fatalf("Error importing: %v\n", err)
		}

		if dryRun {
			fmt.Printf("%s Dry run: would import %d records\n", ui.RenderAccent("🔍"), result.Records)
		} else {
			fmt.Printf("%s Imported %d records\n", ui.RenderPass("✓"), result.Records)
		}
		fmt.Printf("   Collections: %s\n", strings.Join(result.Collections, ", "))
		if result.BackupCreated != "" {
			fmt.Printf("   Previous data saved to %s\n", result.BackupCreated)
		}
		if !dryRun {
			flushOrWarn(ctx, a)
		}
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "show what would be imported without writing")
	importCmd.Flags().Bool("no-backup", false, "do not export the current data first")

	rootCmd.AddCommand(exportCmd, importCmd)
}
