package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkdown-notes/internal/config"
	"inkdown-notes/internal/handler"
	"inkdown-notes/internal/middleware"
	"inkdown-notes/internal/repository"
	"inkdown-notes/internal/service"
	"inkdown-notes/internal/session"
	"inkdown-notes/internal/websocket"
	"inkdown-notes/pkg/logger"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatal("invalid CouchDB address", zap.Error(err))
	}

	// The remote replica is optional at startup. Calls made while CouchDB is
	// unreachable fail as unavailable and the engine falls back to local.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.Sync.RemoteTimeout)
	if err := repository.EnsureDatabase(startupCtx, client, cfg.Database.Name); err != nil {
		log.Warn("remote replica unavailable at startup", zap.String("database", cfg.Database.Name), zap.Error(err))
	}
	cancelStartup()

	var kv repository.KeyValueStore
	if cfg.Local.Path == "" {
		kv = repository.NewMemoryKeyValueStore(cfg.Local.QuotaBytes)
		log.Warn("local replica is in memory; notes will not survive a restart")
	} else {
		bolt, err := repository.NewBoltKeyValueStore(cfg.Local.Path, cfg.Local.QuotaBytes)
		if err != nil {
			log.Fatal("failed to open local replica", zap.String("path", cfg.Local.Path), zap.Error(err))
		}
		defer bolt.Close()
		kv = bolt
	}

	localRepo := repository.NewLocalRepository(kv)
	remoteRepo := repository.NewCouchRemoteRepository(client, cfg.Database.Name, cfg.Sync.RemoteTimeout)

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxClients,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		log.Named("websocket"),
	)

	encryptionService := service.NewEncryptionService(cfg.Encryption.Iterations, log.Named("encryption"))
	syncService := service.NewSyncService(localRepo, remoteRepo, encryptionService, wsManager, log.Named("sync"))

	sess := session.NewSession(cfg.JWT.Secret, log.Named("session"))
	presence := session.NewPresence(cfg.Sync.VisibilityThreshold)

	coordinator := service.NewCoordinator(syncService, log.Named("coordinator"))
	sess.OnAuthStateChange(coordinator.AuthChanged)
	presence.OnRegained(coordinator.PresenceRegained)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go wsManager.Run(ctx)
	go func() {
		if err := coordinator.Run(ctx); err != nil && err != context.Canceled {
			log.Error("coordinator stopped", zap.Error(err))
		}
	}()

	wsMessageHandler := handler.NewWebSocketMessageHandler(syncService, presence, wsManager, cfg.Sync.RemoteTimeout, log.Named("websocket"))
	wsManager.SetMessageHandler(wsMessageHandler)

	noteHandler := handler.NewNoteHandler(syncService)
	syncHandler := handler.NewSyncHandler(syncService)
	encryptionHandler := handler.NewEncryptionHandler(syncService)
	sessionHandler := handler.NewSessionHandler(sess)
	origins := middleware.NewOriginPolicy(cfg.CORS.AllowedOrigins)
	wsHandler := handler.NewWebSocketHandler(wsManager, origins, log.Named("websocket"))

	apiToken := cfg.API.Token
	if apiToken == "" {
		apiToken = uuid.NewString()
		log.Warn("API_TOKEN is not set, generated one for this run", zap.String("api_token", apiToken))
	}
	requireToken := middleware.APITokenMiddleware(apiToken)

	r := mux.NewRouter()

	r.Use(middleware.SessionMiddleware(sess))
	r.Use(middleware.LoggerMiddleware(log.Named("http")))
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(requireToken)

	api.HandleFunc("/session", sessionHandler.Current).Methods("GET", "OPTIONS")
	api.HandleFunc("/session/signin", sessionHandler.SignIn).Methods("POST", "OPTIONS")
	api.HandleFunc("/session/signout", sessionHandler.SignOut).Methods("POST", "OPTIONS")

	api.HandleFunc("/notes", noteHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/notes/{id}", noteHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/notes/{id}", noteHandler.Save).Methods("PUT", "OPTIONS")
	api.HandleFunc("/notes/{id}", noteHandler.Delete).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/collection", noteHandler.UpdateCollection).Methods("PUT", "OPTIONS")

	api.HandleFunc("/status", syncHandler.Status).Methods("GET", "OPTIONS")
	api.HandleFunc("/storage/mode", syncHandler.SetStorageMode).Methods("PUT", "OPTIONS")

	api.HandleFunc("/encryption/enable", encryptionHandler.Enable).Methods("POST", "OPTIONS")
	api.HandleFunc("/encryption/unlock", encryptionHandler.Unlock).Methods("POST", "OPTIONS")
	api.HandleFunc("/encryption/disable", encryptionHandler.Disable).Methods("POST", "OPTIONS")
	api.HandleFunc("/encryption/lock", encryptionHandler.Lock).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("/sync").Subrouter()
	protected.Use(middleware.RequireSession())

	protected.HandleFunc("", syncHandler.Sync).Methods("POST", "OPTIONS")
	protected.HandleFunc("/conflicts/{id}/resolve", syncHandler.ResolveConflict).Methods("POST", "OPTIONS")

	r.Handle("/ws", requireToken(http.HandlerFunc(wsHandler.HandleConnection)))

	r.HandleFunc("/health", healthHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting inkdown notes engine",
			zap.String("addr", addr),
			zap.String("env", cfg.Server.Env),
			zap.String("storage_mode", string(syncService.Status().StorageMode)),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	stop()

	log.Info("server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"inkdown-notes"}`))
}
