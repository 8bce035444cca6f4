// Package main is the entry point for the nof1 position tracker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/M3R1ttt/nof1-tracker/internal/alerting"
	"github.com/M3R1ttt/nof1-tracker/internal/config"
	"github.com/M3R1ttt/nof1-tracker/internal/detector"
	"github.com/M3R1ttt/nof1-tracker/internal/exchange"
	"github.com/M3R1ttt/nof1-tracker/internal/executor"
	"github.com/M3R1ttt/nof1-tracker/internal/feed"
	"github.com/M3R1ttt/nof1-tracker/internal/follower"
	"github.com/M3R1ttt/nof1-tracker/internal/metrics"
	"github.com/M3R1ttt/nof1-tracker/internal/persistence"
)

// Version information (set by build flags).
var (
	Version   = "0.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "follow":
		cmdFollow(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`nof1-tracker - Follow AI agent positions onto a futures exchange

Usage:
  nof1-tracker <command> [options]

Commands:
  follow     Start following the configured agents
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  nof1-tracker follow --config config.yaml
  nof1-tracker follow --config config.yaml --agent deepseek --risk-only
  nof1-tracker validate --config config.yaml

Use "nof1-tracker <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("nof1-tracker version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Exchange: %s\n", exchangeName(cfg))
	for _, agent := range cfg.Agents {
		fmt.Printf("  Agent %s: poll every %s, risk_only=%v\n",
			agent.ID, agent.PollInterval(), agent.RiskOnly)
	}
}

func exchangeName(cfg *config.Config) string {
	if cfg.Exchange.Type == "" {
		return "paper"
	}
	return cfg.Exchange.Type
}

func cmdFollow(args []string) {
	fs := flag.NewFlagSet("follow", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	agentID := fs.String("agent", "", "Follow only this agent (overrides config)")
	intervalSec := fs.Int("interval", 0, "Poll interval in seconds (overrides config)")
	riskOnly := fs.Bool("risk-only", false, "Detect and plan without submitting orders")
	priceTolerance := fs.Float64("price-tolerance", 0, "Price drift tolerance percent (overrides config)")
	marginBudget := fs.Float64("margin-budget", 0, "Total margin budget (overrides config)")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	agents := selectAgents(cfg, *agentID, *intervalSec, *riskOnly, *priceTolerance, *marginBudget)
	if len(agents) == 0 {
		logger.Error("no matching agent in config", "agent", *agentID)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("nof1-tracker starting",
		"version", Version,
		"exchange", exchangeName(cfg),
		"agents", len(agents),
	)

	gateway, err := exchange.New(cfg.ToExchangeConfig(), logger)
	if err != nil {
		logger.Error("failed to create exchange gateway", "err", err)
		os.Exit(1)
	}

	feedClient := feed.NewClient(feed.Config{
		BaseURL:            cfg.Feed.BaseURL,
		Timeout:            time.Duration(cfg.Feed.TimeoutSec) * time.Second,
		RateLimitPerSecond: cfg.Feed.RateLimitPerSecond,
	}, logger)

	alerter := buildAlerter(cfg, logger)

	var journal persistence.Journal
	if cfg.Journal.Enabled {
		sqlite, err := persistence.NewSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal", "err", err)
			os.Exit(1)
		}
		defer func() { _ = sqlite.Close() }()
		journal = sqlite
	}

	recorder := metrics.NewRecorder()
	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		serverCfg := metrics.DefaultServerConfig()
		if cfg.Metrics.Port > 0 {
			serverCfg.Port = cfg.Metrics.Port
		}
		if cfg.Metrics.Path != "" {
			serverCfg.MetricsPath = cfg.Metrics.Path
		}
		metricsServer = metrics.NewServer(serverCfg, logger)
		metricsServer.RegisterHealthCheck("gateway", func() metrics.Check {
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := gateway.Ping(pingCtx); err != nil {
				recorder.RecordGatewayStatus(false)
				return metrics.Check{Status: "unhealthy", Message: err.Error()}
			}
			recorder.RecordGatewayStatus(true)
			return metrics.Check{Status: "healthy"}
		})
		if err := metricsServer.Start(); err != nil {
			logger.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
	}

	det := detector.New(logger)
	sessions := detector.NewSessionState()

	var wg sync.WaitGroup
	for _, agent := range agents {
		agent := agent
		engine := executor.New(agent.ToExecutorConfig(), gateway, logger)
		fol := follower.New(
			follower.Config{
				AgentID:      agent.ID,
				PollInterval: agent.PollInterval(),
				RiskOnly:     agent.RiskOnly,
			},
			feedClient, det, engine, sessions, alerter, journal, recorder, logger,
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fol.Run(ctx); err != nil {
				logger.Error("follower exited", "agent", agent.ID, "err", err)
			}
		}()
	}

	wg.Wait()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "err", err)
		}
	}

	logger.Info("nof1-tracker shutdown complete")
}

// selectAgents applies CLI overrides on top of the configured agents.
func selectAgents(cfg *config.Config, agentID string, intervalSec int, riskOnly bool, priceTolerance, marginBudget float64) []config.AgentConfig {
	var agents []config.AgentConfig
	for _, agent := range cfg.Agents {
		if agentID != "" && agent.ID != agentID {
			continue
		}
		if intervalSec > 0 {
			agent.PollIntervalSec = intervalSec
		}
		if riskOnly {
			agent.RiskOnly = true
		}
		if priceTolerance > 0 {
			agent.PriceTolerancePct = priceTolerance
		}
		if marginBudget > 0 {
			agent.MarginBudget = marginBudget
		}
		agents = append(agents, agent)
	}

	// Following an agent absent from config is still allowed; it runs
	// with defaults plus whatever overrides were given.
	if agentID != "" && len(agents) == 0 {
		agents = append(agents, config.AgentConfig{
			ID:                agentID,
			PollIntervalSec:   intervalSec,
			RiskOnly:          riskOnly,
			PriceTolerancePct: priceTolerance,
			MarginBudget:      marginBudget,
		})
	}

	return agents
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return nil
	}

	multi := alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			multi.AddAlerter(alerting.NewConsoleAlerter(logger))
		case "telegram":
			multi.AddAlerter(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		}
	}
	return multi
}
