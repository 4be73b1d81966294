package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hedgegram/api"
	"hedgegram/auth"
	"hedgegram/broker"
	"hedgegram/config"
	"hedgegram/journal"
	"hedgegram/logs"
	"hedgegram/notify"
	"hedgegram/session"
	"hedgegram/watchdog"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the config.yaml file")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: .env file not found, will continue using system environment variables.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Fatal error: Unable to load config file '%s': %v\n", *configPath, err)
		os.Exit(1)
	}

	envCfg := config.LoadEnvConfig()
	if err := envCfg.Validate(); err != nil {
		fmt.Printf("Fatal error: %v\n", err)
		os.Exit(1)
	}

	logFilename := fmt.Sprintf("%s/hedgegram.log", cfg.Files.LogDirectory)
	if err := logs.Init(cfg.Logs, logFilename); err != nil {
		fmt.Printf("Fatal error: Failed to initialize logging system: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logs.Fatalf("Invalid timezone %q: %v", cfg.Timezone, err)
	}
	expiryWeekday, err := cfg.ExpiryWeekday()
	if err != nil {
		logs.Fatalf("Invalid expiry weekday: %v", err)
	}

	jrnl, err := journal.Open(cfg.Files.JournalFile)
	if err != nil {
		logs.Fatalf("Failed to open journal: %v", err)
	}
	defer jrnl.Close()

	httpTimeout := time.Duration(cfg.Intervals.HTTPTimeoutSeconds) * time.Second
	creds := auth.NewStore(cfg.Files.CredentialFile, loc)
	modeStore := session.NewModeStore(cfg.Files.ModeFile)
	paper := broker.NewPaperSource(cfg.Files.PaperPositionsFile)
	live := broker.NewLiveSource(envCfg, creds, httpTimeout)
	login := broker.NewLoginClient(envCfg, creds, httpTimeout)
	notifier := notify.FromEnv(envCfg)

	controller, err := session.NewController(session.Config{
		Paper:        paper,
		Live:         live,
		ModeStore:    modeStore,
		Credentials:  creds,
		Notifier:     notifier,
		Journal:      jrnl,
		ModePIN:      envCfg.ModePIN,
		PollInterval: time.Duration(cfg.Intervals.PollSeconds) * time.Second,
		FetchTimeout: httpTimeout,
	})
	if err != nil {
		logs.Fatalf("Failed to initialize session controller: %v", err)
	}

	// Safety watchdogs run for the whole process lifetime.
	done := make(chan struct{})
	watchdogInterval := time.Duration(cfg.Intervals.WatchdogSeconds) * time.Second
	marginDog := watchdog.NewMargin(controller, live, notifier, jrnl,
		cfg.Margin.AlertThreshold, cfg.Margin.ExitThreshold, watchdogInterval, loc)
	expiryDog := watchdog.NewExpiry(controller, notifier, jrnl,
		expiryWeekday, cfg.Expiry.CutoffHour, cfg.Expiry.CutoffMinute, watchdogInterval, loc)
	go marginDog.Run(done)
	go expiryDog.Run(done)
	go creds.RunDailyClear(done)

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(api.Options{
		Controller: controller,
		Creds:      creds,
		Login:      login,
		Live:       live,
		Journal:    jrnl,
		Notifier:   notifier,
		APIKey:     envCfg.ControlAPIKey,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: server.Router,
	}
	go func() {
		logs.Infof("Control API listening on %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Fatalf("Control API failed: %v", err)
		}
	}()

	// Wait for and handle program termination signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logs.Info("Received close signal, starting graceful shutdown...")
	controller.Stop("")
	close(done)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logs.Errorf("Control API shutdown failed: %v", err)
	}
	logs.Info("All services stopped successfully.")
}
