// gamectl is the invoice delivery core: it terminates game-control
// WebSocket sessions, polls the object store for expected invoice
// artifacts, persists them, and notifies the owning players.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orderrush/backend/internal/config"
	"github.com/orderrush/backend/internal/invoicestore"
	"github.com/orderrush/backend/internal/metrics"
	"github.com/orderrush/backend/internal/objstore"
	"github.com/orderrush/backend/internal/poller"
	"github.com/orderrush/backend/internal/registry"
	"github.com/orderrush/backend/internal/session"
	"github.com/orderrush/backend/internal/sinks"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	m := metrics.NewMetrics()

	// Invoice store: an unusable storage directory is fatal.
	store, err := invoicestore.NewStore(cfg.Storage.InvoiceDir)
	if err != nil {
		log.Fatalf("Failed to open invoice store: %v", err)
	}

	// Object store gateway: probed once at startup. With a finite retry
	// budget an unreachable store means registrations would silently burn
	// down, so that combination refuses to boot.
	gateway, err := objstore.NewMinioGateway(objstore.Options{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		UseSSL:    cfg.ObjectStore.UseSSL,
		Region:    cfg.ObjectStore.Region,
	})
	if err != nil {
		log.Fatalf("Failed to build object store gateway: %v", err)
	}

	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 10*time.Second)
	probeErr := gateway.Connect(probeCtx, cfg.ObjectStore.Bucket)
	cancelProbe()
	if probeErr != nil {
		if !cfg.Polling.MaxRetries.Unlimited() {
			log.Fatalf("Object store unreachable and max_retries is finite: %v", probeErr)
		}
		log.Printf("⚠️  Object store unreachable, polling will retry: %v", probeErr)
	}

	reg := registry.New()

	sinkClient := sinks.NewClient(sinks.Config{
		GameOverURL:     cfg.Sinks.GameOverURL,
		ProcessOrderURL: cfg.Sinks.ProcessOrderURL,
		Timeout:         cfg.SinkTimeout(),
	})
	dispatcher := sinks.NewDispatcher(sinkClient, 2)

	router := session.NewRouter(session.Deps{
		Store:      store,
		Registry:   reg,
		Sinks:      sinkClient,
		Dispatcher: dispatcher,
		Metrics:    m,
	})

	engine := poller.New(poller.Config{
		Interval:        cfg.PollInterval(),
		Bucket:          cfg.ObjectStore.Bucket,
		MaxRetries:      int(cfg.Polling.MaxRetries),
		StreamThreshold: cfg.Polling.StreamThresholdBytes,
	}, gateway, store, reg, router.Deliver, m)
	engine.Start()

	// Game-control surface
	wsRouter := mux.NewRouter()
	wsRouter.HandleFunc("/game-control", router.HandleWebSocket)

	wsServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.WsPort),
		Handler:     wsRouter,
		IdleTimeout: 60 * time.Second,
	}

	// Ops surface
	opsRouter := mux.NewRouter()

	opsRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		objstoreStatus := "connected"
		if probeErr != nil {
			objstoreStatus = "unreachable"
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":          "healthy",
			"service":         "gamectl",
			"object_store":    objstoreStatus,
			"stored_invoices": store.Count(),
		})
	}).Methods("GET")

	opsRouter.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"game_status":      router.Status(),
			"sessions":         router.SessionCount(),
			"pending_expected": reg.Len(),
			"stored_invoices":  store.Count(),
			"breakers":         sinkClient.BreakerStats(),
		})
	}).Methods("GET")

	opsRouter.HandleFunc("/admin/scan", func(w http.ResponseWriter, r *http.Request) {
		engine.RunOnce(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "scanned"})
	}).Methods("POST")

	opsRouter.Handle("/metrics", promhttp.Handler()).Methods("GET")

	opsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      opsRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("📊 Ops surface on :%d (/health /status /metrics)", cfg.Server.HTTPPort)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ops server failed: %v", err)
		}
	}()

	// Graceful shutdown: stop scheduling scans (the in-flight one finishes),
	// stop accepting sessions, drain the game-over queue, exit 0.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		engine.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := wsServer.Shutdown(ctx); err != nil {
			log.Printf("WebSocket server shutdown error: %v", err)
		}
		if err := opsServer.Shutdown(ctx); err != nil {
			log.Printf("Ops server shutdown error: %v", err)
		}

		dispatcher.Shutdown()
	}()

	log.Printf("🚀 Invoice delivery core starting: ws=:%d bucket=%q interval=%s",
		cfg.Server.WsPort, cfg.ObjectStore.Bucket, cfg.PollInterval())

	if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("WebSocket server failed: %v", err)
	}

	log.Println("Server stopped")
}
