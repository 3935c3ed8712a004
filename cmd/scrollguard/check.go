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

var (
	checkDay  string
	checkTime string
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] IDENTITY",
	Short: "Check the block decision for an application",
	Long: `Check whether ScrollGuard would intercept the short-form feed of the given
application identity, using the configured policy source.`,
	Example: `  scrollguard -c config.yaml check com.instagram.android
  scrollguard check --day monday --time 18:30 com.google.android.youtube`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - defaults to current day")
	checkCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	identity := strings.TrimSpace(args[0])

	checkDateTime, err := parseCheckTime(time.Now(), checkDay, checkTime)
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

	target, tracked := registry.Lookup(identity)
	if !tracked {
		printCheckResult(identity, nil, checkDateTime, false)
		return nil
	}

	var store storage.Store
	if cfg.Policy.Source == "store" {
		store, err = openStorage(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer store.Close()
	}

	clock := policy.NewTestClock(checkDateTime)
	policySource, _, err := buildPolicySource(cfg, store, registry, clock, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to initialize policy source: %w", err)
	}

	holder := policy.NewHolder(policySource, registry.Groups(), clock,
		parseDuration(cfg.Policy.RefreshTimeout, policy.DefaultRefreshTimeout), zerolog.Nop())
	if err := holder.Refresh(context.Background()); err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	printCheckResult(identity, &target, checkDateTime, holder.Blocked(target.Group))
	return nil
}

// printCheckResult prints the check result with colors
func printCheckResult(identity string, target *targets.Target, checkTime time.Time, blocked bool) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("  Block Decision")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("  Identity:    %s\n", identity)
	fmt.Printf("  Check Time:  %s\n", checkTime.Format("Monday 15:04"))

	if target == nil {
		fmt.Println()
		yellow.Println("  Not a tracked application, events are ignored")
	} else {
		fmt.Printf("  Group:       %s\n", target.Group)
		fmt.Printf("  Anchor:      %s\n", target.AnchorID())
		fmt.Println()
		fmt.Print("  Decision:    ")
		if blocked {
			red.Println("BLOCK")
			fmt.Println("  Scrolls on the feed will be intercepted.")
		} else {
			green.Println("ALLOW")
			fmt.Println("  Scrolls will be counted but not intercepted.")
		}
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// parseCheckTime parses day and time flags into a time.Time relative to now
func parseCheckTime(now time.Time, dayStr, timeStr string) (time.Time, error) {
	// Parse time (HH:MM)
	hour := now.Hour()
	minute := now.Minute()

	if timeStr != "" {
		parts := strings.Split(timeStr, ":")
		if len(parts) != 2 {
			return time.Time{}, fmt.Errorf("time must be in HH:MM format")
		}

		if _, err := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute); err != nil {
			return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
		}

		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return time.Time{}, fmt.Errorf("invalid time: hour must be 0-23, minute must be 0-59")
		}
	}

	// Parse day of week
	targetDay := now.Weekday()
	if dayStr != "" {
		switch strings.ToLower(dayStr) {
		case "sunday", "sun":
			targetDay = time.Sunday
		case "monday", "mon":
			targetDay = time.Monday
		case "tuesday", "tue":
			targetDay = time.Tuesday
		case "wednesday", "wed":
			targetDay = time.Wednesday
		case "thursday", "thu":
			targetDay = time.Thursday
		case "friday", "fri":
			targetDay = time.Friday
		case "saturday", "sat":
			targetDay = time.Saturday
		default:
			return time.Time{}, fmt.Errorf("invalid day: %s", dayStr)
		}
	}

	// Move forward to the requested weekday
	daysAhead := (int(targetDay) - int(now.Weekday()) + 7) % 7
	day := now.AddDate(0, 0, daysAhead)

	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location()), nil
}
