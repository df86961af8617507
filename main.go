package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	config "taskpilot/app/configs"
	"taskpilot/app/core/broadcast"
	"taskpilot/app/core/interaction/cli"
	"taskpilot/app/core/interaction/http"
	"taskpilot/app/core/orchestrator/agent"
	"taskpilot/app/core/orchestrator/chat"
	"taskpilot/app/core/orchestrator/conversation"
	"taskpilot/app/core/orchestrator/db"
	"taskpilot/app/core/orchestrator/task"
	"taskpilot/app/core/orchestrator/tools"
	"taskpilot/app/core/reminder"
	"taskpilot/app/core/scheduler"
	"taskpilot/app/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("TaskPilot Starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	database, err := db.NewSQLiteDB(cfg.Storage.DataDir)
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	taskStore := task.NewStore(database)
	convStore := conversation.NewStore(database)
	caster := broadcast.NewBroadcaster()
	engine := reminder.NewEngine(taskStore, caster)

	registry := tools.NewRegistry()
	handlers := tools.NewHandlers(taskStore, engine, caster)
	if err := handlers.RegisterAll(registry); err != nil {
		logger.Error("Failed to register tools: %v", err)
		os.Exit(1)
	}

	strategy := buildStrategy(cfg, registry)
	logger.Info("Agent strategy: %s", strategy.Name())

	chatService := chat.NewService(convStore, strategy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobScheduler := scheduler.New()
	if err := jobScheduler.Register(scheduler.Job{
		Name:       "reminder-due-scan",
		Interval:   time.Duration(cfg.Reminder.ScanIntervalSec) * time.Second,
		Timeout:    10 * time.Second,
		RunOnStart: true,
		Run:        engine.RunScan,
	}); err != nil {
		logger.Error("Failed to register due-scan job: %v", err)
		os.Exit(1)
	}
	if err := jobScheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer jobScheduler.Stop()

	httpServer := http.NewServer(cfg.HTTP.Port, chatService, engine, caster, jobScheduler)
	go func() {
		if err := httpServer.Start(ctx); err != nil {
			logger.Error("HTTP server crashed: %v", err)
			os.Exit(1)
		}
	}()

	logger.Info("TaskPilot is ready to serve.")
	fmt.Println("- CLI Interface:  Interactive")
	fmt.Printf("- Chat Endpoint:  http://localhost:%d/api/chat (POST)\n", cfg.HTTP.Port)
	fmt.Printf("- Live Channel:   ws://localhost:%d/ws\n", cfg.HTTP.Port)

	go func() {
		console := cli.New(cfg.CLI.UserID, cfg.Agent.Name, chatService)
		if err := console.Start(ctx); err != nil {
			logger.Error("CLI loop error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. TaskPilot Shutting Down...", sig)
	cancel()
}

// buildStrategy picks the dispatcher: the model strategy when
// configured and an API key is present, the rule table otherwise.
func buildStrategy(cfg config.Config, registry *tools.Registry) agent.Strategy {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	switch cfg.Agent.Strategy {
	case config.StrategyRules:
		return agent.NewRuleStrategy(registry)
	case config.StrategyModel:
		if apiKey == "" {
			logger.Error("Agent strategy 'model' requires OPENAI_API_KEY; falling back to rules")
			return agent.NewRuleStrategy(registry)
		}
		return agent.NewModelStrategy(apiKey, cfg.Agent.Model, registry, time.Duration(cfg.Agent.TimeoutSec)*time.Second)
	default:
		if apiKey != "" {
			return agent.NewModelStrategy(apiKey, cfg.Agent.Model, registry, time.Duration(cfg.Agent.TimeoutSec)*time.Second)
		}
		return agent.NewRuleStrategy(registry)
	}
}
