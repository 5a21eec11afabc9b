package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/neuroca/alert-router/pkg/api"
	"github.com/neuroca/alert-router/pkg/config"
	"github.com/neuroca/alert-router/pkg/dispatch"
	"github.com/neuroca/alert-router/pkg/inhibit"
	"github.com/neuroca/alert-router/pkg/metrics"
	"github.com/neuroca/alert-router/pkg/notify"
	"github.com/neuroca/alert-router/pkg/routing"
	"github.com/neuroca/alert-router/pkg/silence"
	"github.com/neuroca/alert-router/pkg/store"
	"github.com/neuroca/alert-router/pkg/timeplus"
	"github.com/neuroca/alert-router/pkg/ws"
)

// @title Neuroca Alert Router API
// @version 1.0
// @description API for ingesting, grouping, and routing alert notifications
// @BasePath /api/v1

const (
	gcInterval       = time.Minute
	silenceRetention = time.Hour
)

func main() {
	// Configure Log Level from Environment Variable
	logLevelStr := os.Getenv("LOG_LEVEL")
	switch strings.ToLower(logLevelStr) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel) // Default to Info
	}
	logrus.Infof("Log level set to: %s", logrus.GetLevel().String())

	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Load and compile the routing policy. Any matcher or structural error
	// is fatal here so a broken policy never reaches alert time.
	routingCfg, err := config.LoadRoutingConfig(cfg.Routing.File)
	if err != nil {
		logrus.Fatalf("Failed to load routing config: %v", err)
	}
	routeTree, err := routing.NewRoute(routingCfg.Route, nil)
	if err != nil {
		logrus.Fatalf("Failed to build route tree: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Alert state and mute machinery
	alertStore := store.New(time.Duration(routingCfg.ResolveTimeout))
	go alertStore.Run(ctx, gcInterval)

	silencer := silence.NewSilencer(silenceRetention)
	go silencer.Run(ctx, gcInterval)

	inhibitor, err := inhibit.NewInhibitor(alertStore, routingCfg.InhibitRules)
	if err != nil {
		logrus.Fatalf("Failed to build inhibition rules: %v", err)
	}

	// Notification pipeline
	pipeline := notify.NewPipeline(routingCfg.Receivers)

	hub := ws.New(ctx)
	pipeline.SetBroadcaster(hub)

	// Optional Timeplus audit journal
	var journal *timeplus.AlertJournal
	if cfg.Journal.Enabled {
		tpClient, err := timeplus.NewClient(&cfg.Journal)
		if err != nil {
			logrus.Fatalf("Failed to create Timeplus client: %v", err)
		}
		defer tpClient.Close()

		journal = timeplus.NewAlertJournal(tpClient)
		if err := journal.SetupStreams(ctx); err != nil {
			logrus.Warnf("Failed to set up journal streams: %v", err)
		}
		go journal.Run(ctx)
		pipeline.SetJournal(journal)
		logrus.Info("Alert journal enabled")
	}

	dispatcher := dispatch.New(routeTree, alertStore, pipeline, silencer, inhibitor)

	// Hot reload of the routing policy
	if cfg.Routing.HotReload {
		go func() {
			err := config.WatchRoutingConfig(ctx, cfg.Routing.File, func(rc *config.RoutingConfig) {
				tree, err := routing.NewRoute(rc.Route, nil)
				if err != nil {
					logrus.Errorf("Reloaded route tree invalid, keeping previous: %v", err)
					return
				}
				if err := inhibitor.UpdateRules(rc.InhibitRules); err != nil {
					logrus.Errorf("Reloaded inhibition rules invalid, keeping previous: %v", err)
					return
				}
				pipeline.UpdateReceivers(rc.Receivers)
				dispatcher.UpdateRoute(tree)
			})
			if err != nil {
				logrus.Errorf("Routing config watcher stopped: %v", err)
			}
		}()
	}

	// Set up the HTTP router
	var apiJournal api.Journal
	if journal != nil {
		apiJournal = journal
	}
	apiHandler := api.NewAPIHandler(dispatcher, alertStore, silencer, apiJournal, pipeline.ReceiverNames)

	r := mux.NewRouter()
	apiHandler.SetupRoutes(r)
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/ws", hub)
	r.PathPrefix("/swagger/").Handler(httpSwagger.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: strings.Split(cfg.Server.AllowedOrigins, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)

	// Create HTTP server
	// Use PORT environment variable if available, otherwise use config
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		logrus.Infof("Starting alert router on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Stop group timers and background loops
	dispatcher.Stop()
	cancel()

	// Create a deadline for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	// Shutdown the server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Fatalf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited properly")
}
