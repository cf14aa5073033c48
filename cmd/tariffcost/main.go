// tariffcost - electricity plan cost and selection engine
//
// Usage:
//
//	tariffcost report [--dry-run] [--chat-id ID] [--absolute]
//	tariffcost quote --profile family_home
//	tariffcost history stats|show|purge|import
//	tariffcost serve --addr :8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"tariff-cost/api"
	"tariff-cost/db/clickhouse"
	"tariff-cost/db/history"
	"tariff-cost/db/ingestion"
	"tariff-cost/decision/comparison"
	"tariff-cost/decision/estimation"
	"tariff-cost/decision/policy"
	"tariff-cost/decision/report"
	"tariff-cost/notify"
	"tariff-cost/pkg/config"
	"tariff-cost/pkg/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:  "version",
		Usage: "print the version",
	}

	app := &cli.App{
		Name:    "tariffcost",
		Usage:   "Electricity plan cost engine - find the cheapest plan for each household profile",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (yaml or json)",
				EnvVars: []string{"TARIFFCOST_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
			&cli.StringFlag{
				Name:    "plans",
				Usage:   "Plan collection file (overrides plans_file)",
				EnvVars: []string{"TARIFFCOST_PLANS_FILE"},
			},
		},

		Commands: []*cli.Command{
			reportCommand(),
			quoteCommand(),
			historyCommand(),
			serveCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

// env holds everything a command needs, built from the loaded config
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  history.Store
}

func setup(c *cli.Context) (*env, error) {
	logger, err := logging.New(c.Bool("verbose"))
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if plans := c.String("plans"); plans != "" {
		cfg.PlansFile = plans
	}

	store, err := openStore(c.Context, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: store}, nil
}

func (e *env) Close() {
	if closer, ok := e.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			e.logger.Warn("failed to close history store", zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (history.Store, error) {
	switch cfg.History.Backend {
	case "", "file":
		logger.Debug("using file history", zap.String("path", cfg.History.Path))
		return history.NewFileStore(cfg.History.Path), nil
	case "clickhouse":
		store, err := clickhouse.NewStore(cfg.ClickHouseStore())
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		logger.Debug("using clickhouse history", zap.String("host", cfg.ClickHouse.Host))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}

func (e *env) engine() (*comparison.Engine, error) {
	ccfg, err := e.cfg.Comparison()
	if err != nil {
		return nil, err
	}
	source := ingestion.NewFileSource(e.cfg.PlansFile, e.logger)
	rules := policy.NewEngine()
	if err := rules.Disable(e.cfg.Filter.DisabledRules...); err != nil {
		return nil, fmt.Errorf("invalid filter.disabled_rules: %w", err)
	}
	return comparison.NewEngine(source, estimation.NewCalculator(), rules, e.store, e.logger, ccfg), nil
}

// =============================================================================
// REPORT COMMAND
// =============================================================================

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Run the monthly comparison and send savings alerts",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Run analysis without sending notifications",
			},
			&cli.StringFlag{
				Name:    "chat-id",
				Usage:   "WhatsApp chat ID to send alerts to (overrides notify.whatsapp.chat_id)",
				EnvVars: []string{"WHATSAPP_CHAT_ID"},
			},
			&cli.BoolFlag{
				Name:  "absolute",
				Usage: "Also track the cheapest plan across all retailers",
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Send a monthly summary per profile after the alerts",
			},
		},
		Action: runReport,
	}
}

func runReport(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	if c.Bool("absolute") {
		e.cfg.Tracking.AbsoluteCheapest = true
	}
	if chatID := c.String("chat-id"); chatID != "" {
		e.cfg.Notify.WhatsApp.ChatID = chatID
	}

	profiles, err := e.cfg.UsageProfiles()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		return fmt.Errorf("no usage profiles configured")
	}

	engine, err := e.engine()
	if err != nil {
		return err
	}

	var notifier notify.Notifier
	if c.Bool("dry-run") {
		notifier = notify.NewLogNotifier(e.logger)
	} else {
		notifier, err = notify.New(e.cfg.NotifyOptions(), e.logger)
		if err != nil {
			return err
		}
		if closer, ok := notifier.(io.Closer); ok {
			defer closer.Close()
		}
	}

	runner := report.NewRunner(engine, e.store, notifier, profiles, report.NewMetrics(), e.logger, report.Options{
		DryRun:          c.Bool("dry-run"),
		SendSummaries:   c.Bool("summary"),
		ReportsDir:      e.cfg.ReportsDir,
		MetricsFile:     e.cfg.MetricsFile,
		RetentionMonths: e.cfg.History.RetentionMonths,
	})

	summary, err := runner.Run(c.Context)
	if err != nil {
		return err
	}
	printSummary(summary)
	return nil
}

func printSummary(s *report.Summary) {
	fmt.Println()
	fmt.Println("📊 MONTHLY REPORT SUMMARY")
	fmt.Printf("   Plans analyzed:        %d\n", s.TotalPlansAnalyzed)
	fmt.Printf("   Profiles analyzed:     %d\n", s.ProfilesAnalyzed)
	fmt.Printf("   Savings opportunities: %d\n", s.TotalOpportunities)
	fmt.Printf("   Alerts sent:           %d\n", s.AlertsSent)
	if s.AlertsFailed > 0 {
		fmt.Printf("   ⚠️  Alerts failed:      %d\n", s.AlertsFailed)
	}

	names := make([]string, 0, len(s.Profiles))
	for name := range s.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ps := s.Profiles[name]
		fmt.Printf("\n%s:\n", name)
		fmt.Printf("  Opportunities: %d\n", ps.OpportunitiesFound)
		fmt.Printf("  Alerts sent:   %d\n", ps.AlertsSent)
		fmt.Println("  Cheapest plans:")

		categories := make([]string, 0, len(ps.CheapestPlans))
		for category := range ps.CheapestPlans {
			categories = append(categories, category)
		}
		sort.Strings(categories)
		for _, category := range categories {
			p := ps.CheapestPlans[category]
			fmt.Printf("    %s: %s ($%s/qtr)\n", category, p.PlanName, p.Cost.StringFixed(2))
		}
	}
	if s.ReportFile != "" {
		fmt.Printf("\nReport saved to: %s\n", s.ReportFile)
	}
}

// =============================================================================
// QUOTE COMMAND
// =============================================================================

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "Price every eligible plan for one profile",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "profile",
				Aliases:  []string{"p"},
				Usage:    "Configured profile name",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "limit",
				Value: 10,
				Usage: "Number of plans to show",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "table",
				Usage:   "Output format (table, json)",
			},
		},
		Action: runQuote,
	}
}

func runQuote(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	profile, err := e.cfg.Profile(c.String("profile"))
	if err != nil {
		return err
	}
	engine, err := e.engine()
	if err != nil {
		return err
	}

	plans, _, err := engine.LoadAndFilter(c.Context)
	if err != nil {
		return err
	}
	quotes, stats, err := engine.PriceAll(c.Context, plans, profile)
	if err != nil {
		return err
	}
	comparison.SortByCost(quotes)
	if limit := c.Int("limit"); limit > 0 && len(quotes) > limit {
		quotes = quotes[:limit]
	}

	if c.String("format") == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(quotes)
	}

	fmt.Printf("\n💰 %s: %d plans priced", notify.DisplayName(profile.Name), stats.Priced)
	if stats.Failed > 0 {
		fmt.Printf(" (%d failed)", stats.Failed)
	}
	fmt.Println()
	fmt.Println()
	fmt.Printf("  %-3s %-24s %-36s %12s %12s\n", "#", "RETAILER", "PLAN", "QUARTER", "YEAR")
	for i, q := range quotes {
		marker := ""
		if q.Cost.DiscountApplied {
			marker = " *"
		}
		fmt.Printf("  %-3d %-24s %-36s %12s %12s%s\n", i+1,
			truncate(q.Retailer, 24), truncate(q.PlanName, 36),
			"$"+q.Cost.TotalCost.StringFixed(2), "$"+q.Cost.AnnualCost.StringFixed(2), marker)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// HISTORY COMMAND
// =============================================================================

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect and maintain snapshot history",
		Subcommands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Show history statistics",
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					defer e.Close()

					stats, err := e.store.Stats(c.Context)
					if err != nil {
						return err
					}
					fmt.Printf("Location:         %s\n", stats.Location)
					fmt.Printf("Months:           %d\n", stats.TotalMonths)
					fmt.Printf("Snapshots:        %d\n", stats.TotalSnapshots)
					fmt.Printf("Profiles tracked: %v\n", stats.ProfilesTracked)
					fmt.Printf("Size:             %.2f KB\n", float64(stats.SizeBytes)/1024)
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Show a profile's recent snapshots",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "profile",
						Aliases:  []string{"p"},
						Required: true,
					},
					&cli.IntFlag{
						Name:  "months",
						Value: 12,
					},
				},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					defer e.Close()

					records, err := history.RecentHistory(c.Context, e.store, time.Now(), c.String("profile"), c.Int("months"))
					if err != nil {
						return err
					}
					if len(records) == 0 {
						fmt.Println("No history recorded")
						return nil
					}
					for _, rec := range records {
						fmt.Printf("%s  %-16s %-24s %-36s $%s\n", rec.Key.Month, rec.Key.Category,
							truncate(rec.Snapshot.Retailer, 24), truncate(rec.Snapshot.PlanName, 36),
							rec.Snapshot.TotalCost.StringFixed(2))
					}
					return nil
				},
			},
			{
				Name:  "purge",
				Usage: "Remove months older than the retention window",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "keep",
						Usage: "Months to keep (defaults to history.retention_months)",
					},
				},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					defer e.Close()

					keep := c.Int("keep")
					if keep <= 0 {
						keep = e.cfg.History.RetentionMonths
					}
					removed, err := history.PurgeOlderThan(c.Context, e.store, time.Now(), keep)
					if err != nil {
						return err
					}
					fmt.Printf("Removed %d month(s), keeping %d\n", removed, keep)
					return nil
				},
			},
			{
				Name:  "import",
				Usage: "Copy a history file into the configured backend",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "from",
						Usage:    "Source history JSON file",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					defer e.Close()

					src := history.NewFileStore(c.String("from"))
					result, err := ingestion.NewHistoryImporter(e.store, e.logger).Import(c.Context, src)
					if err != nil {
						return err
					}
					fmt.Printf("✅ Imported %d snapshots for %d profiles in %s\n",
						result.Snapshots, result.Profiles, result.Duration)
					return nil
				},
			},
		},
	}
}

// =============================================================================
// SERVE COMMAND
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Listen address (overrides http.addr)",
				EnvVars: []string{"TARIFFCOST_HTTP_ADDR"},
			},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			profiles, err := e.cfg.UsageProfiles()
			if err != nil {
				return err
			}
			engine, err := e.engine()
			if err != nil {
				return err
			}

			serverCfg := api.DefaultConfig()
			serverCfg.Addr = e.cfg.HTTP.Addr
			if addr := c.String("addr"); addr != "" {
				serverCfg.Addr = addr
			}

			// Batch run metrics are exported by `report` through metrics_file, not by the server.
			server := api.NewServer(engine, e.store, profiles, nil, e.logger, serverCfg)
			return server.StartWithGracefulShutdown(c.Context)
		},
	}
}
