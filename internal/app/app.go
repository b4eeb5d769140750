package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/contractwatch/internal/auth"
	"github.com/hitoshi/contractwatch/internal/config"
	"github.com/hitoshi/contractwatch/internal/database"
	"github.com/hitoshi/contractwatch/internal/esi"
	"github.com/hitoshi/contractwatch/internal/handler"
	"github.com/hitoshi/contractwatch/internal/logger"
	"github.com/hitoshi/contractwatch/internal/metrics"
	"github.com/hitoshi/contractwatch/internal/middleware"
	"github.com/hitoshi/contractwatch/internal/notify"
	"github.com/hitoshi/contractwatch/internal/poll"
	"github.com/hitoshi/contractwatch/internal/security"
	"github.com/hitoshi/contractwatch/internal/store"
	"github.com/hitoshi/contractwatch/internal/token"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Duration("poll_interval", cfg.PollInterval),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はサーバーモードで起動する。
// ストアをロードし、全依存関係をワイヤリングし、HTTPサーバーと
// ポーリングスケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. ストアバックエンドの選択とロード
	// DATABASE_URLが設定されていればPostgres、未設定ならJSONファイルを使う。
	var backend store.Backend
	if cfg.DatabaseURL != "" {
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		slog.Info("database connection established")
		backend = store.NewPostgresBackend(db)
	} else {
		slog.Info("using file-backed store", slog.String("path", cfg.DataFile))
		backend = store.NewFileBackend(cfg.DataFile)
	}

	st, err := store.Open(backend)
	if err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}

	// 2. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()

	// 3. ドメインサービスの初期化
	ssoProvider := auth.NewSSOProvider(auth.SSOConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		CallbackURL:  cfg.CallbackURL,
		Scopes:       cfg.Scopes,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		Timeout:      cfg.FetchTimeout,
	})

	esiClient := esi.NewClient(esi.ClientConfig{
		BaseURL: cfg.ESIBaseURL,
		Timeout: cfg.FetchTimeout,
		Rate:    cfg.ESIRate,
		Burst:   cfg.ESIBurst,
	})

	tokenManager := token.NewManager(ssoProvider)
	notifier := notify.NewWebhookNotifier(ssrfGuard, cfg.NotifyTimeout)
	linkService := auth.NewService(ssoProvider, esiClient, st, notifier)

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. ポーリングスケジューラの初期化
	reconciler := poll.NewReconciler(
		st, esiClient, tokenManager, notifier, collector,
		slog.Default(), cfg.PendingLinkTTL,
	)
	scheduler := poll.NewScheduler(reconciler, slog.Default())

	// 6. ルーターの構築
	// configのレート制限はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.LinkRate = rate.Limit(float64(cfg.RateLimitLink) / 60.0)
	rateLimiterCfg.LinkBurst = cfg.RateLimitLink

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		LinkService: linkService,
		Validator:   ssrfGuard,
		Recorder:    collector,
		Store:       st,
		RateLimiter: rateLimiter,
		Gatherer:    registry,
		Logger:      slog.Default(),
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ポーリングスケジューラをバックグラウンドで起動
	// 起動直後の猶予の後に初回サイクルを実行し、以降は一定間隔で繰り返す
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(ctx, cfg.PollGraceDelay, cfg.PollInterval)
	}()

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")

	// スケジューラを停止してから進行中サイクルの完了を待つ
	cancel()
	<-schedulerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
