package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chatwire/internal/chat"
	"chatwire/internal/config"
	"chatwire/internal/db"
	myMiddleware "chatwire/internal/middleware"
	"chatwire/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Config
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database Schema Initialized")

	// 3. Event broker: Redis when configured, in-process loopback otherwise
	var broker chat.Broker
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		log.Println("✅ Connected to Redis")
		broker = chat.NewRedisBroker(redisClient)
	} else {
		log.Println("⚠️  REDIS_ADDR not set, running single-instance")
		broker = chat.NewLocalBroker()
	}

	// 4. User Feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// 5. Chat Feature
	chatRepo := chat.NewRepository(database.Conn)
	hub := chat.NewHub(chatRepo, broker, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

	chatHandler := chat.NewHandler(hub, chatRepo, userService, logger)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public
	r.Post("/api/register", userHandler.Register)
	r.Post("/api/login", userHandler.Login)
	r.Get("/api/health", chatHandler.Health)

	// WebSocket authenticates in-band with its first frame.
	r.Get("/ws", chatHandler.ServeWs)

	// Protected (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/me", userHandler.Me)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/conversations", chatHandler.GetConversations)
		r.Get("/api/messages/{conversationID}", chatHandler.GetChatHistory)
		r.Post("/api/send-message", chatHandler.SendMessage)
	})

	log.Printf("🚀 Server starting on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatal(err)
	}
}
