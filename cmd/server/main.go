package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"device-sync-server/internal/audit"
	"device-sync-server/internal/config"
	"device-sync-server/internal/handler"
	"device-sync-server/internal/middleware"
	"device-sync-server/internal/mqtt"
	"device-sync-server/internal/repository"
	"device-sync-server/internal/service"
	"device-sync-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Logging.Debug() {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer store.Close()

	table, err := config.LoadStrategyTable(cfg.Sync.StrategyFile)
	if err != nil {
		log.Fatalf("Failed to load strategy table: %v", err)
	}
	fallback, err := service.ParseMergeFallback(cfg.Sync.MergeFallback)
	if err != nil {
		log.Fatalf("Invalid SYNC_MERGE_FALLBACK: %v", err)
	}
	log.Printf("[INFO] Strategy table loaded with %d fields (merge fallback: %s)", table.Len(), fallback)

	wsManager := websocket.NewManager(websocket.ManagerConfig{
		MaxConnPerTopic: cfg.WebSocket.MaxConnPerTopic,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		WriteWait:       cfg.WebSocket.WriteWait,
		PongWait:        cfg.WebSocket.PongWait,
		PingPeriod:      cfg.WebSocket.PingPeriod,
	})
	go wsManager.Run(ctx)

	sinks := service.FanoutSink{wsManager}
	var closers []io.Closer

	if cfg.MQTT.Enabled() {
		mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			log.Fatalf("Failed to connect to MQTT broker: %v", err)
		}
		defer mqttClient.Close()
		sinks = append(sinks, mqtt.NewPublisher(mqttClient.Native(), mqtt.PublisherConfig{
			TopicPattern: cfg.MQTT.TopicEvents,
		}))
	}

	if cfg.ClickHouse.Enabled() {
		auditSink, err := audit.NewClickHouseSink(ctx, audit.Config{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
		})
		if err != nil {
			log.Fatalf("Failed to open ClickHouse audit sink: %v", err)
		}
		closers = append(closers, auditSink)
		sinks = append(sinks, auditSink)
	}

	detector := service.NewConflictDetector(store, table,
		service.WithMergeFallback(fallback),
		service.WithEventSink(sinks),
		service.WithDebug(cfg.Logging.Debug()),
	)
	deviceService := service.NewDeviceService(store, detector)

	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(detector))

	deviceHandler := handler.NewDeviceHandler(deviceService)
	syncHandler := handler.NewSyncHandler(deviceService, detector)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/devices", deviceHandler.Register).Methods("POST", "OPTIONS")
	api.HandleFunc("/devices", deviceHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/devices/{id}", deviceHandler.Get).Methods("GET", "OPTIONS")

	api.HandleFunc("/devices/{id}/sync", syncHandler.Sync).Methods("POST", "OPTIONS")
	api.HandleFunc("/devices/{id}/conflicts/detect", syncHandler.Detect).Methods("POST", "OPTIONS")
	api.HandleFunc("/devices/{id}/conflicts", syncHandler.ListConflicts).Methods("GET", "OPTIONS")
	api.HandleFunc("/conflicts/{id}", syncHandler.GetConflict).Methods("GET", "OPTIONS")
	api.HandleFunc("/conflicts/{id}/resolve", syncHandler.ResolveConflict).Methods("POST", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)
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
		log.Printf("Starting Device Sync Server on %s (env: %s, store: %s)", addr, cfg.Server.Env, cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Server forced to shutdown: %v", err)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("[WARN] %v", err)
		}
	}

	log.Println("Server stopped gracefully")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pg, err := repository.OpenPostgresStore(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.StoreMemory:
		log.Printf("[WARN] Using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), nil
	default:
		log.Printf("[INFO] Connecting to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		couch, err := repository.OpenCouchStore(ctx, cfg.Database.URL(), cfg.Database.Name)
		if err != nil {
			return nil, err
		}
		return couch, nil
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"device-sync-server"}`))
}
