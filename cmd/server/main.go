package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"domstyle-sync-server/internal/applier"
	"domstyle-sync-server/internal/config"
	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/handler"
	"domstyle-sync-server/internal/logger"
	"domstyle-sync-server/internal/middleware"
	"domstyle-sync-server/internal/remote"
	"domstyle-sync-server/internal/repository"
	"domstyle-sync-server/internal/scheduler"
	"domstyle-sync-server/internal/service"
	"domstyle-sync-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		logger.Log.Fatal("failed to connect to CouchDB", zap.Error(err))
	}

	exists, err := client.DBExists(context.Background(), cfg.Database.Name)
	if err != nil {
		logger.Log.Fatal("failed to check database existence", zap.Error(err))
	}

	if !exists {
		if err := client.CreateDB(context.Background(), cfg.Database.Name); err != nil {
			logger.Log.Fatal("failed to create database", zap.Error(err))
		}
		logger.Log.Info("created database", zap.String("name", cfg.Database.Name))
	}

	ruleRepo := repository.NewRuleRepository(client, cfg.Database.Name)
	stateRepo := repository.NewSyncStateRepository(client, cfg.Database.Name)

	dataverse := remote.NewDataverseAdapter(cfg.Dataverse, cfg.Auth.RequiredRole, cfg.Sync.RequestTimeout)
	sharepoint := remote.NewSharePointAdapter(cfg.SharePoint, cfg.Sync.RequestTimeout)

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerPage,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	go wsManager.Run()

	authService := service.NewAuthService(dataverse, cfg.Auth.TokenMaxAge, cfg.Auth.RoleMaxAge, cfg.Auth.RequiredRole)
	ruleService := service.NewRuleService(ruleRepo, wsManager)
	resolver := service.NewConflictResolver()
	syncService := service.NewSyncService(
		ruleRepo,
		stateRepo,
		[]remote.Adapter{dataverse, sharepoint},
		resolver,
		authService,
		wsManager,
		domain.Strategy(cfg.Sync.Strategy),
	)

	app := applier.New(ruleService, authService, applier.DefaultTimings())

	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler())

	authHandler := handler.NewAuthHandler(authService)
	ruleHandler := handler.NewRuleHandler(ruleService)
	syncHandler := handler.NewSyncHandler(syncService)
	matchHandler := handler.NewMatchHandler(ruleService, wsManager)
	wsHandler := handler.NewWebSocketHandler(wsManager, app)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.TokenRelayMiddleware(authService))

	api.HandleFunc("/auth/token", authHandler.DepositToken).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/role", authHandler.Role).Methods("GET", "OPTIONS")
	api.HandleFunc("/auth/signout", authHandler.SignOut).Methods("POST", "OPTIONS")

	api.HandleFunc("/rules", ruleHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/rules", ruleHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/rules/export", ruleHandler.Export).Methods("GET", "OPTIONS")
	api.HandleFunc("/rules/import", ruleHandler.Import).Methods("POST", "OPTIONS")
	api.HandleFunc("/rules/{id}", ruleHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/rules/{id}", ruleHandler.Update).Methods("PUT", "OPTIONS")
	api.HandleFunc("/rules/{id}", ruleHandler.Delete).Methods("DELETE", "OPTIONS")

	api.HandleFunc("/sync", syncHandler.Trigger).Methods("POST", "OPTIONS")
	api.HandleFunc("/sync/status", syncHandler.Status).Methods("GET", "OPTIONS")
	api.HandleFunc("/sync/cancel", syncHandler.Cancel).Methods("POST", "OPTIONS")
	api.HandleFunc("/sync/history", syncHandler.ClearHistory).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/sync/conflicts", syncHandler.Conflicts).Methods("GET", "OPTIONS")

	api.HandleFunc("/match", matchHandler.Match).Methods("POST", "OPTIONS")
	api.HandleFunc("/selector/test", matchHandler.TestSelector).Methods("POST", "OPTIONS")
	api.HandleFunc("/preview", matchHandler.Preview).Methods("POST", "OPTIONS")
	api.HandleFunc("/preview/{id}", matchHandler.RemovePreview).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	r.HandleFunc("/health", healthHandler).Methods("GET")

	var autoSync *scheduler.Scheduler
	if cfg.Sync.AutoSyncEnable {
		autoSync = scheduler.New(syncService, authService, []string{"dataverse", "sharepoint"})
		if err := autoSync.Start(cfg.Sync.AutoSyncSpec); err != nil {
			logger.Log.Fatal("failed to schedule auto-sync", zap.Error(err))
		}
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Log.Info("starting domstyle sync server",
			zap.String("addr", addr),
			zap.String("env", cfg.Server.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down server")

	if autoSync != nil {
		autoSync.Stop()
	}
	syncService.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"domstyle-sync-server"}`))
}
