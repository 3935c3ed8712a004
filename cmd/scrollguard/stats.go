package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/scrollguard/internal/config"
	"github.com/goodtune/scrollguard/internal/storage"
	"github.com/goodtune/scrollguard/internal/usage"
	"github.com/spf13/cobra"
)

var (
	statsPeriod   string
	statsDate     string
	statsFrom     string
	statsTo       string
	statsIdentity string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recorded usage",
	Long: `Show time spent, scrolls, app opens and blocked scrolls per group for a
day, a week (Monday to Sunday), a month or an explicit date range.`,
	Example: `  scrollguard stats
  scrollguard stats --period week
  scrollguard stats --period month --date 2024-05-01
  scrollguard stats --from 2024-05-01 --to 2024-05-14
  scrollguard stats --identity com.instagram.android`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsPeriod, "period", "day", "Period to report: day, week or month")
	statsCmd.Flags().StringVar(&statsDate, "date", "", "Date inside the period (YYYY-MM-DD) - defaults to today")
	statsCmd.Flags().StringVar(&statsFrom, "from", "", "Start of an explicit range (YYYY-MM-DD)")
	statsCmd.Flags().StringVar(&statsTo, "to", "", "End of an explicit range (YYYY-MM-DD)")
	statsCmd.Flags().StringVar(&statsIdentity, "identity", "", "Show the daily history of one identity instead")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	reader, err := usage.NewReader(store.Usage(), nil, usage.DefaultCacheSize)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if statsIdentity != "" {
		records, err := reader.ByIdentity(ctx, strings.TrimSpace(statsIdentity))
		if err != nil {
			return fmt.Errorf("failed to read usage: %w", err)
		}
		printIdentityHistory(statsIdentity, records)
		return nil
	}

	start, end, err := statsRange(time.Now(), statsPeriod, statsDate, statsFrom, statsTo)
	if err != nil {
		return err
	}

	records, err := reader.Range(ctx, start, end)
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}

	printStats(start, end, usage.GroupTotals(records, registry))
	return nil
}

// statsRange resolves the report flags into an inclusive date range
func statsRange(now time.Time, period, date, from, to string) (string, string, error) {
	if from != "" || to != "" {
		if from == "" || to == "" {
			return "", "", fmt.Errorf("--from and --to must be used together")
		}
		if _, err := storage.DatesBetween(from, to); err != nil {
			return "", "", err
		}
		return from, to, nil
	}

	anchor := now
	if date != "" {
		parsed, err := time.ParseInLocation(storage.DateLayout, date, now.Location())
		if err != nil {
			return "", "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
		}
		anchor = parsed
	}

	switch strings.ToLower(period) {
	case "", "day":
		day := anchor.Format(storage.DateLayout)
		return day, day, nil
	case "week":
		start, end := usage.WeekRange(anchor)
		return start, end, nil
	case "month":
		start, end := usage.MonthRange(anchor)
		return start, end, nil
	default:
		return "", "", fmt.Errorf("invalid period %q: expected day, week or month", period)
	}
}

// printStats prints per-group totals for a range
func printStats(start, end string, totals []usage.GroupTotal) {
	cyan := color.New(color.FgCyan, color.Bold)
	bold := color.New(color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if start == end {
		cyan.Printf("  Usage for %s\n", start)
	} else {
		cyan.Printf("  Usage for %s to %s\n", start, end)
	}
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	if len(totals) == 0 {
		yellow.Println("  No usage recorded")
		fmt.Println()
		return
	}

	bold.Printf("  %-14s %10s %10s %8s %10s\n", "GROUP", "TIME", "SCROLLS", "OPENS", "BLOCKED")
	for _, t := range totals {
		fmt.Printf("  %-14s %10s %10s %8s ", t.Group,
			usage.FormatDuration(t.TimeSpentSeconds),
			usage.FormatCount(t.ScrollCount),
			usage.FormatCount(t.AppOpenCount))
		if t.ScrollsBlocked > 0 {
			red.Printf("%10s\n", usage.FormatCount(t.ScrollsBlocked))
		} else {
			fmt.Printf("%10s\n", usage.FormatCount(t.ScrollsBlocked))
		}
	}

	sum := usage.Sum(totals)
	fmt.Println()
	bold.Printf("  %-14s %10s %10s %8s %10s\n", "TOTAL",
		usage.FormatDuration(sum.TimeSpentSeconds),
		usage.FormatCount(sum.ScrollCount),
		usage.FormatCount(sum.AppOpenCount),
		usage.FormatCount(sum.ScrollsBlocked))

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// printIdentityHistory prints one line per recorded day of an identity
func printIdentityHistory(identity string, records []storage.UsageRecord) {
	cyan := color.New(color.FgCyan, color.Bold)
	bold := color.New(color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Printf("  History for %s\n", identity)
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	if len(records) == 0 {
		yellow.Println("  No usage recorded")
		fmt.Println()
		return
	}

	bold.Printf("  %-12s %10s %10s %8s %10s\n", "DATE", "TIME", "SCROLLS", "OPENS", "BLOCKED")
	for _, r := range records {
		fmt.Printf("  %-12s %10s %10s %8s %10s\n", r.Date,
			usage.FormatDuration(r.TimeSpentSeconds),
			usage.FormatCount(r.ScrollCount),
			usage.FormatCount(r.AppOpenCount),
			usage.FormatCount(r.ScrollsBlocked))
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
