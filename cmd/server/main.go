package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/askdrop/askdrop/internal/api"
	"github.com/askdrop/askdrop/internal/db"
	"github.com/askdrop/askdrop/internal/media"
	"github.com/askdrop/askdrop/internal/middleware"
	"github.com/askdrop/askdrop/internal/notify"
	"github.com/askdrop/askdrop/internal/services"
	"github.com/askdrop/askdrop/internal/utils"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	addr := utils.SafeEnv("ASKDROP_ADDR", ":8080")
	dbPath := utils.SafeEnv("ASKDROP_DB_PATH", "askdrop.db")
	mediaDir := utils.SafeEnv("ASKDROP_MEDIA_DIR", "media-data")
	queueCap := utils.SafeEnvInt("ASKDROP_QUEUE_CAP", 256)
	webhookURL := utils.SafeEnv("ASKDROP_NOTIFY_WEBHOOK", "")

	var store services.Store
	if dbPath == "memory" {
		store = db.NewMemoryStore()
		logger.Warn("using in-memory store; data is lost on restart")
	} else {
		sqlDB, err := sql.Open("sqlite3", dbPath)
		if err != nil {
			logger.Fatal("open database", zap.Error(err))
		}
		if err := db.RunMigrations(sqlDB, utils.SafeEnv("ASKDROP_MIGRATIONS_DIR", "")); err != nil {
			logger.Fatal("run migrations", zap.Error(err))
		}
		sqliteStore, err := db.NewSQLiteStore(sqlDB, logger)
		if err != nil {
			logger.Fatal("init store", zap.Error(err))
		}
		store = sqliteStore
	}

	mediaStore, err := media.NewDirStore(mediaDir)
	if err != nil {
		logger.Fatal("init media store", zap.Error(err))
	}

	var notifier notify.Notifier
	if webhookURL != "" {
		notifier = notify.NewWebhookNotifier(webhookURL, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}
	queue := notify.NewQueue(queueCap, notifier, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go queue.Run(ctx)

	directory := services.NewStoreDirectory(store)
	router := api.NewRouter(
		services.NewAuthService(store, middleware.SignToken),
		services.NewQuestionSetService(store),
		services.NewDistributionService(store, queue, logger),
		services.NewTokenService(store),
		services.NewAnswerService(store, queue, mediaStore, logger),
		services.NewLinkService(store, directory, logger),
		services.NewExportService(store, mediaStore),
		logger,
	)

	mux := http.NewServeMux()
	router.Register(mux)
	mux.Handle("/media/", http.StripPrefix("/media/", http.FileServer(http.Dir(mediaDir))))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"name":   "AskDrop API",
			"fanout": queue.Stats(),
		})
	})

	handler := middleware.SecureHeaders(middleware.CORS(middleware.WithAuth(mux)))

	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info("askdrop server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
