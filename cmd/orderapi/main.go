// orderapi is the order/REST surface: it accepts player orders, issues PO
// numbers, announces the expected invoices to the delivery core over
// WebSocket, and hosts the game-over sink backed by the Redis leaderboard.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/orderrush/backend/internal/config"
	"github.com/orderrush/backend/internal/leaderboard"
	"github.com/orderrush/backend/internal/ratelimit"
	"github.com/orderrush/backend/internal/upstream"
	"github.com/orderrush/backend/pkg/gameclient"
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

	port := os.Getenv("ORDER_API_PORT")
	if port == "" {
		port = "3000"
	}

	// Leaderboard is optional: without Redis the order flow still works.
	board, err := leaderboard.Connect(cfg.Leaderboard.RedisAddr, cfg.Leaderboard.RedisPassword,
		cfg.Leaderboard.RedisDB, cfg.Leaderboard.Key)
	if err != nil {
		log.Printf("⚠️  Leaderboard disabled: %v", err)
		board = nil
	}

	poClient := upstream.NewClient(os.Getenv("PO_SERVICE_URL"), cfg.SinkTimeout())

	gc := gameclient.New(gameclient.Config{
		ServerURL:      cfg.Client.ServerURL,
		ClientID:       cfg.Client.ClientID,
		Heartbeat:      time.Duration(cfg.Client.HeartbeatSec) * time.Second,
		BackoffInitial: time.Duration(cfg.Client.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Client.BackoffMaxMs) * time.Millisecond,
		QueueSize:      cfg.Client.QueueSize,
	})
	gc.Start()

	// Surface what the core tells us; mostly confirmations and deliveries.
	go func() {
		for ev := range gc.Events() {
			switch ev.Type {
			case "register_expected_invoice_response", "invoice_ready":
				log.Printf("📨 Core: %s", ev.Raw)
			case "welcome", "register_response", "game_status":
				// Routine chatter
			default:
				log.Printf("Core frame: %s", ev.Type)
			}
		}
	}()

	limiter := ratelimit.New(ratelimit.Config{MaxPerWindow: envInt("ORDER_RATE_LIMIT", 60)})

	router := mux.NewRouter()
	router.Handle("/process-order",
		limiter.Middleware(http.HandlerFunc(processOrder(poClient, gc)))).Methods("POST")
	router.HandleFunc("/game-over", gameOver(board)).Methods("POST")
	router.HandleFunc("/leaderboard", topScores(board)).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		boardStatus := "connected"
		if board == nil {
			boardStatus = "unavailable"
		}
		coreStatus := "connected"
		if !gc.Connected() {
			coreStatus = "disconnected"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":      "healthy",
			"service":     "orderapi",
			"leaderboard": boardStatus,
			"game_core":   coreStatus,
		})
	}).Methods("GET")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}

		gc.Close()
		board.Close()
	}()

	log.Printf("🚀 Order API starting on port %s (core at %s)", port, cfg.Client.ServerURL)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}

// ============================================================================
// HANDLERS
// ============================================================================

type orderRequest struct {
	PlayerID      string               `json:"playerId"`
	UserID        string               `json:"userId"`
	CustomerName  string               `json:"customerName"`
	CustomerEmail string               `json:"customerEmail"`
	Items         []upstream.OrderItem `json:"items"`
}

// pid returns the player binding for the order; empty when the caller sent
// no identity at all.
func (o *orderRequest) pid() string {
	if o.PlayerID != "" {
		return o.PlayerID
	}
	return o.UserID
}

func processOrder(poClient *upstream.Client, gc *gameclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var order orderRequest
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err == nil {
			err = json.Unmarshal(body, &order)
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"status": "error", "message": "invalid order payload",
			})
			return
		}
		if order.CustomerName == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"status": "error", "message": "customerName is required",
			})
			return
		}

		total := 0.0
		for _, item := range order.Items {
			total += float64(item.Quantity) * item.UnitPrice
		}

		po := poClient.IssuePO(r.Context(), upstream.OrderRequest{
			CustomerName:  order.CustomerName,
			CustomerEmail: order.CustomerEmail,
			Items:         order.Items,
		})

		orderID := uuid.NewString()

		registered := false
		if pid := order.pid(); pid != "" {
			err := gc.RegisterExpectedInvoice(po.Number, pid, gameclient.OrderInfo{
				CustomerName:  order.CustomerName,
				CustomerEmail: order.CustomerEmail,
				OrderID:       orderID,
				Summary: map[string]interface{}{
					"total":     total,
					"itemCount": len(order.Items),
				},
			})
			if err != nil {
				log.Printf("⚠️  Could not announce invoice %s: %v", po.Number, err)
			} else {
				registered = true
			}
		} else {
			log.Printf("⚠️  Order %s has no player binding; invoice %s will need a manual request",
				orderID, po.Number)
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":        "success",
			"orderId":       orderID,
			"poNumber":      po.Number,
			"poSource":      po.Source,
			"message":       fmt.Sprintf("Order accepted; invoice %s pending", po.Number),
			"customerName":  order.CustomerName,
			"customerEmail": order.CustomerEmail,
			"itemCount":     len(order.Items),
			"total":         total,
			"registered":    registered,
		})
	}
}

// gameOverPayload accepts both shapes the game clients send: a single
// player/score pair or a scores map.
type gameOverPayload struct {
	PlayerID   string             `json:"playerId"`
	UserID     string             `json:"userId"`
	FinalScore *float64           `json:"finalScore"`
	Scores     map[string]float64 `json:"scores"`
}

func gameOver(board *leaderboard.Board) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload gameOverPayload
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"status": "error", "message": "invalid game-over payload",
			})
			return
		}

		recorded := 0
		ctx := r.Context()

		record := func(player string, score float64) {
			if player == "" {
				return
			}
			if err := board.Record(ctx, player, score); err != nil {
				log.Printf("⚠️  Score for %s not recorded: %v", player, err)
				return
			}
			recorded++
		}

		if payload.FinalScore != nil {
			pid := payload.PlayerID
			if pid == "" {
				pid = payload.UserID
			}
			record(pid, *payload.FinalScore)
		}
		for player, score := range payload.Scores {
			record(player, score)
		}

		if recorded == 0 && board == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "error", "message": "leaderboard unavailable",
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "success",
			"recorded": recorded,
		})
	}
}

func topScores(board *leaderboard.Board) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := queryInt(r, "limit", 10)

		entries, err := board.Top(r.Context(), n)
		if err != nil {
			status := http.StatusInternalServerError
			if err == leaderboard.ErrUnavailable {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, map[string]string{"status": "error", "message": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "success",
			"leaderboard": entries,
		})
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func envInt(name string, def int) int {
	if raw := os.Getenv(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return def
}

func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}
