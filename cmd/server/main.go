package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chat-core/internal/auth"
	"chat-core/internal/config"
	"chat-core/internal/handlers"
	"chat-core/internal/presence"
	"chat-core/internal/relay"
	"chat-core/internal/session"
	"chat-core/internal/store"
	"chat-core/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize the persistence collaborator
	db, err := store.NewPostgresStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize the pub/sub relay and presence bucket. With NATS both
	// span server processes; without it everything stays in-process.
	var messageRelay relay.Relay
	var presenceKV presence.KeyValue
	if cfg.Relay.NATSURL != "" {
		nc, err := relay.ConnectNATS(cfg.Relay.NATSURL)
		if err != nil {
			logger.Fatal("Failed to connect to NATS: %v", err)
		}
		messageRelay = relay.NewNATSRelay(nc)
		presenceKV, err = presence.NewNATSKeyValue(nc, "PRESENCE", cfg.Presence.TTL)
		if err != nil {
			logger.Fatal("Failed to create presence bucket: %v", err)
		}
	} else {
		logger.Warn("NATS_URL not set, running in-process relay (single server only)")
		messageRelay = relay.NewInProcessRelay()
		presenceKV = presence.NewMemoryKeyValue(cfg.Presence.TTL)
	}
	defer messageRelay.Close()

	presenceStore := presence.New(presenceKV)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go presenceStore.RunSweeper(sweepCtx, cfg.Presence.SweepInterval)

	// Shared session collaborators
	deps := session.Deps{
		Store:     db,
		Presence:  presenceStore,
		Relay:     messageRelay,
		Router:    session.NewRouter(messageRelay),
		Registry:  session.NewRegistry(),
		Subs:      session.NewSubscriptions(),
		Heartbeat: cfg.Presence.HeartbeatInterval,
	}

	// Initialize handlers
	authenticator := auth.NewJWT(cfg.JWT.Secret)
	wsHandlers := handlers.NewWebSocketHandlers(authenticator, deps)
	convHandlers := handlers.NewConversationHandlers(authenticator, db)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, wsHandlers, convHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")
	server.Shutdown(context.Background())
}

func setupRoutes(mux *http.ServeMux, wsHandlers *handlers.WebSocketHandlers, convHandlers *handlers.ConversationHandlers) {
	// Conversation sync
	mux.HandleFunc("/conversations", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		convHandlers.ListConversations(w, r)
	})

	// Conversation sub-routes
	mux.HandleFunc("/conversations/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 3 || parts[2] == "" {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		// /conversations/{id}/messages
		if len(parts) == 4 && parts[3] == "messages" && r.Method == http.MethodGet {
			convHandlers.GetMessages(w, r)
			return
		}

		http.Error(w, "endpoint not found", http.StatusNotFound)
	})

	// WebSocket route
	mux.HandleFunc("/ws", wsHandlers.HandleWebSocket)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
