package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/scrollguard/internal/config"
	"github.com/goodtune/scrollguard/internal/targets"
	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the tracked applications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		registry, err := cfg.Registry()
		if err != nil {
			return err
		}

		printTargets(registry)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}

// printTargets prints every target grouped by tracked group
func printTargets(registry *targets.Registry) {
	cyan := color.New(color.FgCyan, color.Bold)
	bold := color.New(color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("  Tracked Applications")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	group := ""
	for _, t := range registry.All() {
		if t.Group != group {
			group = t.Group
			fmt.Println()
			bold.Printf("  %s\n", group)
		}
		fmt.Printf("    %-32s %s\n", t.Identity, t.AnchorID())
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
