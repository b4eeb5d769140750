package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/contractwatch/internal/metrics"
	"github.com/hitoshi/contractwatch/internal/middleware"
	"github.com/hitoshi/contractwatch/internal/store"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	LinkService LinkServiceInterface
	Validator   ChannelValidator
	Recorder    LinkRecorder
	Store       store.Store
	RateLimiter *middleware.RateLimiter
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → RateLimitMiddleware
//
// /callbackはOAuth issuerからのリダイレクト先のためレート制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	linkHandler := NewLinkHandler(deps.LinkService, deps.Validator, deps.Recorder)
	sessionHandler := NewSessionHandler(deps.Store)

	// --- レート制限の外のルート ---

	// OAuthコールバック（issuerからのリダイレクト）
	r.Get("/callback", linkHandler.Callback)

	// ヘルスチェックとメトリクス
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))

	// --- レート制限付きのルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// リンク開始はPendingLinkを蓄積させるため専用の制限を追加する
		r.With(deps.RateLimiter.LinkMiddleware()).Post("/api/link", linkHandler.BeginLink)

		r.Route("/api/sessions", func(r chi.Router) {
			r.Get("/", sessionHandler.ListSessions)
			r.Delete("/", sessionHandler.RemoveSession)
			r.Post("/resetpoll", sessionHandler.ResetPoll)
		})
	})

	return r
}
