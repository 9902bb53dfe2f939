package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"botmaster/internal/agent"
	v1 "botmaster/internal/api/v1"
	"botmaster/internal/config"
	"botmaster/internal/memory"
	"botmaster/internal/messenger"
	"botmaster/internal/messenger/slack"
	"botmaster/internal/messenger/telegram"
	"botmaster/internal/notify"
	"botmaster/internal/server"
	memstore "botmaster/internal/store/memory"
	"botmaster/internal/store/postgres"
	redisstore "botmaster/internal/store/redis"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the orchestrator, chat front-ends and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func runDaemon(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Persistence backend.
	var store v1.DataStore
	switch cfg.Store.Backend {
	case "memory":
		store = memstore.New()
	default:
		if cfg.Database.MaxConns > math.MaxInt32 {
			return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}
		pg, pgErr := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if pgErr != nil {
			return pgErr
		}
		defer pg.Close()
		if migErr := pg.Migrate(ctx); migErr != nil {
			return migErr
		}
		store = pg
	}

	// Redis pub/sub is optional; without it the WebSocket tails are disabled.
	var pubsub *redisstore.PubSub
	if cfg.Redis.Addr != "" {
		pubsub, err = redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer pubsub.Close()
	}

	// Core components.
	registry := agent.NewRegistry(store.Sessions())
	queue := agent.NewQueue(store.Messages())
	engine := agent.NewDecisionEngine()

	spawnerOpts := []agent.SpawnerOption{
		agent.WithInactivityTimeout(cfg.Agents.InactivityTimeout),
		agent.WithStopGrace(cfg.Agents.StopGrace),
	}
	if cfg.Agents.SystemPromptPath != "" {
		prompt, readErr := os.ReadFile(cfg.Agents.SystemPromptPath)
		if readErr != nil {
			return fmt.Errorf("system prompt: %w", readErr)
		}
		spawnerOpts = append(spawnerOpts, agent.WithSystemPrompt(string(prompt)))
	}

	strategies := agent.DefaultStrategies(agent.StrategyConfig{
		ClaudeFlowBin:  cfg.Agents.ClaudeFlowBin,
		GeminiBin:      cfg.Agents.GeminiBin,
		CursorAgentBin: cfg.Agents.CursorAgentBin,
		ClaudeCLIBin:   cfg.Agents.ClaudeCLIBin,
		CursorWrapper:  cfg.Agents.CursorWrapper,
	})
	spawner := agent.NewSpawner(registry, strategies, spawnerOpts...)

	projects := discoverProjects(cfg.Projects.Dirs)
	log.Info().Int("count", len(projects)).Msg("projects discovered")

	// Messenger front-ends.
	registryM := notify.NewRegistry()
	notifier := notify.New(registryM)

	var tgClient *telegram.Client
	if cfg.Telegram.BotToken != "" {
		tgClient = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		registryM.Register("telegram", telegram.NewTelegramMessenger(tgClient))
		notifier.AddTarget("telegram", cfg.Telegram.ChatID)
	}
	if cfg.Slack.BotToken != "" {
		registryM.Register("slack", slack.NewSlackMessenger(slacklib.New(cfg.Slack.BotToken)))
		notifier.AddTarget("slack", cfg.Slack.ChannelID)
	}

	orchestratorOpts := []agent.OrchestratorOption{
		agent.WithProjects(projects),
		agent.WithFastWait(cfg.Agents.FastWait),
		agent.WithPusher(notifier),
	}
	if pubsub != nil {
		orchestratorOpts = append(orchestratorOpts, agent.WithPubSub(pubsub))
	}
	if cfg.Memory.BaseURL != "" {
		orchestratorOpts = append(orchestratorOpts,
			agent.WithMemory(memory.NewClient(cfg.Memory.BaseURL, cfg.Memory.UserID, cfg.Memory.APIKey)))
	}

	orchestrator := agent.NewOrchestrator(engine, registry, spawner, queue, store.Decisions(), orchestratorOpts...)

	// Reconcile sessions left over from a previous run. The terminal hook and
	// operator channels are wired now, so orphan crashes reach the operator.
	if err = registry.Load(ctx); err != nil {
		return err
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go orchestrator.RunDispatcher(ctx)

	// Telegram long polling drives the chat command surface.
	if tgClient != nil && cfg.Telegram.EnablePolling {
		tgMessenger, _ := registryM.Get("telegram")
		router := messenger.NewRouter(orchestrator, tgMessenger, cfg.Telegram.ChatID, projects)
		go tgClient.Poll(ctx, func(pollCtx context.Context, text string) {
			if handleErr := router.HandleText(pollCtx, text); handleErr != nil {
				log.Error().Err(handleErr).Msg("telegram command failed")
			}
		})
	}

	if pushErr := notifier.Push(ctx, "botMaster daemon started. Agent replies are mirrored here."); pushErr != nil {
		log.Warn().Err(pushErr).Msg("startup announcement failed")
	}

	srv := server.New(ctx, cfg, store, pubsub, orchestrator)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
