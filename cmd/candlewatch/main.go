// Command candlewatch is the engine's process entrypoint: it assembles the
// Scanner, Signal Filter, Decision Maker, Executor, Exit Scanner, and Risk
// Supervisor into an Orchestrator Engine, wiring every component once at
// startup and blocking on an OS signal for graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/koshedutech/candlewatch/internal/advisor"
	"github.com/koshedutech/candlewatch/internal/api"
	"github.com/koshedutech/candlewatch/internal/auth"
	"github.com/koshedutech/candlewatch/internal/config"
	"github.com/koshedutech/candlewatch/internal/decision"
	"github.com/koshedutech/candlewatch/internal/exchange/binance"
	"github.com/koshedutech/candlewatch/internal/exchange/paper"
	"github.com/koshedutech/candlewatch/internal/executor"
	"github.com/koshedutech/candlewatch/internal/exitscan"
	"github.com/koshedutech/candlewatch/internal/indicator"
	"github.com/koshedutech/candlewatch/internal/learning"
	"github.com/koshedutech/candlewatch/internal/logging"
	"github.com/koshedutech/candlewatch/internal/market"
	"github.com/koshedutech/candlewatch/internal/news"
	"github.com/koshedutech/candlewatch/internal/notification"
	"github.com/koshedutech/candlewatch/internal/orchestrator"
	"github.com/koshedutech/candlewatch/internal/risk"
	"github.com/koshedutech/candlewatch/internal/scanner"
	"github.com/koshedutech/candlewatch/internal/secrets"
	"github.com/koshedutech/candlewatch/internal/signalfilter"
	"github.com/koshedutech/candlewatch/internal/store"
)

var (
	configFile string
	envFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "candlewatch",
		Short: "candlewatch runs the automated crypto position-management engine",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.json", "path to the JSON config file")
	rootCmd.PersistentFlags().StringVarP(&envFile, "env", "e", ".env", "path to an optional .env file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(scanOnceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the cycle loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.db.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			notifier, err := buildNotificationManager(deps.cfg)
			if err != nil {
				return fmt.Errorf("build notification manager: %w", err)
			}
			if notifier != nil {
				go runNotificationLoop(ctx, deps.db, notifier, deps.apiServer, deps.logger)
			}

			go func() {
				if err := deps.apiServer.Start(); err != nil {
					deps.logger.Error("api server failed", "error", err)
				}
			}()

			deps.logger.Info("candlewatch starting", "cycle_interval", deps.cfg.Engine.CycleIntervalSeconds, "paper_trading", deps.cfg.Exchange.PaperTrading)
			engineErr := deps.engine.Run(ctx)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := deps.apiServer.Shutdown(shutdownCtx); err != nil {
				deps.logger.Warn("api server shutdown failed", "error", err)
			}

			if engineErr != nil && ctx.Err() == nil {
				return fmt.Errorf("engine run: %w", engineErr)
			}
			deps.logger.Info("candlewatch shut down")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := store.Open(store.Config{
				Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
				Password: cfg.Database.Password, Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
			})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := db.Migrate(context.Background()); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func scanOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-once",
		Short: "run a single scan pass and print triggered signals, without filtering or executing",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			symbols, err := deps.db.ActiveSymbols(ctx)
			if err != nil {
				return fmt.Errorf("load active symbols: %w", err)
			}
			inputs := make([]scanner.SymbolInput, 0, len(symbols))
			for _, sym := range symbols {
				if sym.Active {
					inputs = append(inputs, scanner.SymbolInput{Symbol: sym.Code, Tier: sym.Tier})
				}
			}
			result := deps.scan.Scan(ctx, inputs)
			fmt.Printf("scanned %d symbols, %d triggered (%dms)\n", len(inputs), len(result.Triggered), result.DurationMS)
			for _, t := range result.Triggered {
				fmt.Printf("  %s price=%.4f triggers=%v\n", t.Symbol, t.Price, t.ThresholdsCrossed)
			}
			return nil
		},
	}
}

// engineDeps holds everything bootstrap wires up, so serve/scan-once don't
// each repeat the wiring.
type engineDeps struct {
	cfg       *config.Config
	db        *store.Postgres
	scan      *scanner.Scanner
	engine    *orchestrator.Engine
	apiServer *api.Server
	logger    *logging.Logger
}

func bootstrap(ctx context.Context) (*engineDeps, error) {
	cfg, err := config.Load(envFile, configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Output:     "stdout",
		Component:  "candlewatch",
		JSONFormat: cfg.Logging.JSONFormat,
	})

	db, err := store.Open(store.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: cfg.Database.Password, Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	secretsProvider, err := secrets.New(secrets.Config{
		Enabled: cfg.Vault.Enabled, Address: cfg.Vault.Address, Token: cfg.Vault.Token,
		MountPath: cfg.Vault.MountPath, SecretPath: cfg.Vault.SecretPath,
		TLSEnabled: cfg.Vault.TLSEnabled, CACert: cfg.Vault.CACert,
	})
	if err != nil {
		return nil, fmt.Errorf("init secrets provider: %w", err)
	}

	tiers, err := config.LoadTiers(cfg.TiersFile)
	if err != nil {
		return nil, fmt.Errorf("load tiers: %w", err)
	}

	prices, orderPlacer, err := buildExchange(ctx, cfg, secretsProvider)
	if err != nil {
		return nil, fmt.Errorf("build exchange clients: %w", err)
	}

	scan := scanner.New(scanner.DefaultConfig(), indicator.Snapshot(indicator.DefaultPeriods()), prices, logger)

	fastAdvisor := advisor.NewLLMFastAdvisor(advisorLLMConfig(cfg, cfg.Advisor.FastModel, secretsProvider, ctx), logger)
	deepAdvisor := advisor.NewLLMDeepAdvisor(advisorLLMConfig(cfg, cfg.Advisor.DeepModel, secretsProvider, ctx), logger)
	newsSource := news.NewCachedSource(news.NewCryptoPanicSource(cfg.Advisor.CryptoPanicKey))

	filter := signalfilter.New(signalfilter.Config{
		MaxConcurrentPositions: cfg.Engine.MaxConcurrentPositions,
		SonnetDedupMinutes:     15,
	}, fastAdvisor, db)

	maker := decision.New(deepAdvisor, db, newsSource, decision.DefaultConfidenceThresholds())

	alerter := buildAlerter(cfg)
	riskSup := risk.New(risk.Config{
		ConsecutiveLossesToActivate: cfg.Risk.ConsecutiveLossesToActivate,
		CooldownHours:               cfg.Risk.CooldownHours,
		MaxDrawdownPercent:          cfg.Risk.MaxDrawdownPercent,
		EntryCooldownHours:          cfg.Risk.EntryCooldownHours,
		MaxConcurrentPositions:      cfg.Engine.MaxConcurrentPositions,
		TotalCapitalUSD:             cfg.Engine.TotalCapitalUSD,
	}, db, alerter)

	gate := portfolioGate{store: db, maxConcurrent: cfg.Engine.MaxConcurrentPositions, totalCapital: cfg.Engine.TotalCapitalUSD}
	exec := executor.New(executor.Config{
		MaxConcurrentPositions: cfg.Engine.MaxConcurrentPositions,
		DCAMinDropPercent:      cfg.Engine.DCAMinDropPercent,
	}, tiers, db, orderPlacer, prices, gate, riskSup, executor.ZeroCostModel{})

	exitScanner := exitscan.New(exitscan.Config{
		UrgencyThreshold:  cfg.ExitScanner.UrgencyThreshold,
		CriticalThreshold: cfg.ExitScanner.CriticalThreshold,
		CooldownMinutes:   cfg.ExitScanner.CooldownMinutes,
	})

	rules := learning.NewProvider(db, 20)

	engine := orchestrator.New(orchestrator.Config{
		CycleInterval:          time.Duration(cfg.Engine.CycleIntervalSeconds) * time.Second,
		ExitScanEnabled:        cfg.Engine.ExitScanEnabled,
		ExitScanIntervalCycles: cfg.Engine.ExitScanIntervalCycles,
		SummaryInterval:        time.Duration(cfg.Engine.SummaryIntervalMinutes) * time.Minute,
		TotalCapitalUSD:        cfg.Engine.TotalCapitalUSD,
		MaxConcurrentPositions: cfg.Engine.MaxConcurrentPositions,
	}, db, scan, filter, maker, exec, exitScanner, riskSup, rules, logger)

	var authService *auth.Service
	if cfg.Server.OperatorEmail != "" {
		jwtManager := auth.NewJWTManager(cfg.Server.JWTSecret, cfg.Server.AccessTokenDuration, 7*24*time.Hour)
		passwords := auth.NewPasswordManager(auth.DefaultBcryptCost, auth.MinPasswordLength)
		authService = auth.NewService(jwtManager, passwords, cfg.Server.OperatorEmail, cfg.Server.OperatorPasswordHash)
	} else {
		logger.Warn("OPERATOR_EMAIL not set, dashboard API running without authentication")
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Server.Port,
		Host:           cfg.Server.Host,
		ProductionMode: cfg.Server.ProductionMode,
	}, db, engine, authService, logger)

	return &engineDeps{cfg: cfg, db: db, scan: scan, engine: engine, apiServer: apiServer, logger: logger}, nil
}

// portfolioGate answers the Executor's PortfolioGate directly from the
// store, independent of the orchestrator Engine that also exposes this
// shape for its own cycle-scoped cache — constructing the Executor happens
// before the Engine exists, so it cannot depend on it.
type portfolioGate struct {
	store         store.Store
	maxConcurrent int
	totalCapital  float64
}

func (g portfolioGate) OpenCount(ctx context.Context) (int, error) {
	s, err := g.store.PortfolioSummary(ctx, g.maxConcurrent, g.totalCapital)
	return s.OpenCount, err
}

func (g portfolioGate) AvailableCapitalUSD(ctx context.Context) (float64, error) {
	s, err := g.store.PortfolioSummary(ctx, g.maxConcurrent, g.totalCapital)
	return s.AvailableCapitalUSD, err
}

func advisorLLMConfig(cfg *config.Config, model string, secretsProvider *secrets.Provider, ctx context.Context) advisor.LLMConfig {
	apiKey, err := secretsProvider.Get(ctx, "llm_api_key")
	if err != nil {
		apiKey = os.Getenv("LLM_API_KEY")
	}
	return advisor.LLMConfig{
		Provider:    advisor.Provider(cfg.Advisor.Provider),
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   cfg.Advisor.MaxTokens,
		Temperature: cfg.Advisor.Temperature,
		Timeout:     time.Duration(cfg.Advisor.TimeoutSeconds) * time.Second,
	}
}

func buildExchange(ctx context.Context, cfg *config.Config, secretsProvider *secrets.Provider) (market.PriceSource, market.OrderPlacer, error) {
	if cfg.Exchange.PaperTrading {
		live := binance.New("", "", cfg.Exchange.TestNet)
		placer := paper.New(live)
		return live, placer, nil
	}

	keys, err := secretsProvider.GetAPIKeyPair(ctx, "binance")
	if err != nil {
		return nil, nil, fmt.Errorf("load binance api keys: %w", err)
	}
	client := binance.New(keys.APIKey, keys.SecretKey, cfg.Exchange.TestNet)
	return client, client, nil
}

func buildAlerter(cfg *config.Config) risk.Alerter {
	if !cfg.Notification.Enabled || !cfg.Notification.SMS.Enabled {
		return nil
	}
	return notification.NewSMSSink(cfg.Notification.SMS.URL)
}

func buildNotificationManager(cfg *config.Config) (*notification.Manager, error) {
	if !cfg.Notification.Enabled {
		return nil, nil
	}

	limiter := notification.NewRateLimiter(cfg.Notification.RateLimitPerHr)
	var sinks []notification.Sink

	if cfg.Notification.Telegram.Enabled {
		tg, err := notification.NewTelegramSink(cfg.Notification.Telegram.BotToken, cfg.Notification.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("init telegram sink: %w", err)
		}
		sinks = append(sinks, tg)
	}
	if cfg.Notification.Discord.Enabled {
		sinks = append(sinks, notification.NewWebhookSink("discord", cfg.Notification.Discord.URL))
	}
	if cfg.Notification.SMS.Enabled {
		sinks = append(sinks, notification.NewSMSSink(cfg.Notification.SMS.URL))
	}

	return notification.NewManager(limiter, sinks...), nil
}

// runNotificationLoop polls the store's unposted-event queue and fans each
// event out to the configured sinks: pull-based instead of push-based since
// TradeEvents are queued in Postgres rather than published in-process. When
// apiServer is non-nil, every polled event is also pushed to the dashboard's
// websocket hub before it is dispatched. An event whose dispatch returns an
// error is not marked posted, so a later tick pushes and dispatches it again.
func runNotificationLoop(ctx context.Context, db *store.Postgres, notifier *notification.Manager, apiServer *api.Server, logger *logging.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := db.UnpostedEvents(ctx, 50)
			if err != nil {
				logger.Warn("fetch unposted events failed", "error", err)
				continue
			}
			if len(events) == 0 {
				continue
			}

			posted := make([]string, 0, len(events))
			for i := range events {
				if apiServer != nil {
					apiServer.PublishEvent(events[i])
				}
				if err := notifier.Dispatch(ctx, &events[i]); err != nil {
					logger.Warn("dispatch notification failed", "event_id", events[i].ID, "error", err)
					continue
				}
				posted = append(posted, events[i].ID)
			}
			if len(posted) > 0 {
				if err := db.MarkEventsPosted(ctx, posted); err != nil {
					logger.Warn("mark events posted failed", "error", err)
				}
			}
		}
	}
}
