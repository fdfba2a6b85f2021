package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/casamocholi/organizer/internal/config"
	"github.com/casamocholi/organizer/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Show or change settings",
	Long: `Show or change settings. Settings come from the config file, then
ORGANIZER_* environment variables (e.g. ORGANIZER_SYNC_DEBOUNCE=5s), then
built-in defaults.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show every effective setting",
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		fmt.Printf("%s\n", ui.RenderMuted(path))
		for _, key := range config.Keys() {
			value, err := config.Get(configPath, key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", key, err)
				os.Exit(1)
			}
			fmt.Printf("%-18s %s\n", key, value)
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting in the config file",
	Long:  "Change a setting in the config file.\n\nKeys: " + strings.Join(config.Keys(), ", "),
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := config.Set(configPath, args[0], args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s %s = %s\n", ui.RenderPass("✓"), args[0], args[1])
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami [name]",
	GroupID: "setup",
	Short:   "Show or set who uses this device",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()
		ctx := cmd.Context()

		name, err := a.store.UserProfile(ctx)
		if err != nil {
			a.fatalf("Error: %v\n", err)
		}

		switch {
		case len(args) == 1:
			name = args[0]
		case name == "" && ui.IsTerminal(os.Stdin):
			name = a.cfg.User.Name
			input := huh.NewInput().
				Title("Who uses this device?").
				Value(&name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("a name is required")
					}
					return nil
				})
			if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
				a.fatalf("Error: %v\n", err)
			}
		case name != "":
			fmt.Println(name)
			return
		default:
			fmt.Printf("%s No user set; run 'organizer whoami <name>'\n", ui.RenderWarn("⚠"))
			return
		}

		name = strings.TrimSpace(name)
		if err := a.store.SaveUserProfile(ctx, name); err != nil {
			a.fatalf("Error saving user: %v\n", err)
		}
		fmt.Printf("%s Hola, %s\n", ui.RenderPass("✓"), name)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd, whoamiCmd)
}
