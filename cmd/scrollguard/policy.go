package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/scrollguard/internal/config"
	"github.com/goodtune/scrollguard/internal/policy"
	"github.com/goodtune/scrollguard/internal/storage"
	"github.com/goodtune/scrollguard/internal/targets"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and change block flags",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective block flag of every group",
	Args:  cobra.NoArgs,
	RunE:  runPolicyShow,
}

var policySetCmd = &cobra.Command{
	Use:   "set GROUP on|off",
	Short: "Set the stored block flag of a group",
	Long: `Write the block flag of a group to storage. The flag takes effect when the
policy source is "store", on the next foreground change.`,
	Example: `  scrollguard policy set instagram on
  scrollguard policy set youtube off`,
	Args: cobra.ExactArgs(2),
	RunE: runPolicySet,
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policySetCmd)
	rootCmd.AddCommand(policyCmd)
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	var store storage.Store
	if cfg.Policy.Source == "store" {
		store, err = openStorage(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer store.Close()
	}

	policySource, _, err := buildPolicySource(cfg, store, registry, nil, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to initialize policy source: %w", err)
	}

	holder := policy.NewHolder(policySource, registry.Groups(), nil,
		parseDuration(cfg.Policy.RefreshTimeout, policy.DefaultRefreshTimeout), zerolog.Nop())
	if err := holder.Refresh(context.Background()); err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	printPolicy(cfg.Policy.Source, registry, holder.Snapshot())
	return nil
}

// printPolicy prints one line per group with its effective flag
func printPolicy(sourceName string, registry *targets.Registry, snapshot *policy.Snapshot) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("  Block Policy")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("  Source:      %s\n", sourceName)
	fmt.Printf("  Loaded At:   %s\n", snapshot.LoadedAt().Format(time.RFC3339))
	fmt.Println()

	for _, group := range registry.Groups() {
		fmt.Printf("  %-12s ", group)
		if snapshot.Blocked(group) {
			red.Print("BLOCKED")
		} else {
			green.Print("ALLOWED")
		}
		fmt.Printf("  (%s)\n", strings.Join(registry.Identities(group), ", "))
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	group := strings.ToLower(strings.TrimSpace(args[0]))

	blocked, err := parseOnOff(args[1])
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	if len(registry.Identities(group)) == 0 {
		return fmt.Errorf("unknown group %q (known: %s)", group, strings.Join(registry.Groups(), ", "))
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	if err := store.Policy().SetFlag(context.Background(), group, blocked); err != nil {
		return fmt.Errorf("failed to set flag: %w", err)
	}

	state := "off"
	if blocked {
		state = "on"
	}
	fmt.Printf("Blocking for %s is now %s\n", group, state)

	if cfg.Policy.Source != "store" {
		color.New(color.FgYellow).Printf("Warning: policy source is %q, stored flags are not consulted\n", cfg.Policy.Source)
	}
	return nil
}

// parseOnOff parses a block flag argument
func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1", "block", "blocked":
		return true, nil
	case "off", "false", "no", "0", "allow", "allowed":
		return false, nil
	default:
		return false, fmt.Errorf("invalid flag %q: expected on or off", s)
	}
}
