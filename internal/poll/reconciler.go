package poll

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/contractwatch/internal/esi"
	"github.com/hitoshi/contractwatch/internal/model"
	"github.com/hitoshi/contractwatch/internal/notify"
	"github.com/hitoshi/contractwatch/internal/store"
)

// ContractFetcher はリコンサイラが必要とするESIクライアントのインターフェース。
type ContractFetcher interface {
	Contracts(ctx context.Context, accessToken string, characterID int64) ([]esi.Contract, error)
	ContractDetail(ctx context.Context, accessToken string, characterID, contractID int64) (*esi.Contract, error)
}

// TokenManager はトークン鮮度保証のインターフェース。
type TokenManager interface {
	// EnsureFresh はトークンが期限切れならリフレッシュする。
	// リフレッシュを行った場合はtrueを返す。
	EnsureFresh(ctx context.Context, session *model.CharacterSession) (bool, error)
}

// Recorder はリコンシリエーションのメトリクス収集インターフェース。
type Recorder interface {
	RecordCycle(duration time.Duration)
	RecordSessionPolled()
	RecordSessionSkipped(reason string)
	RecordTransition(kind string)
	RecordNotifyFailure()
}

// Reconciler は全セッションに対するfetch-diff-notify-persistサイクルを実行する。
// セッションは決定的な順序で1つずつ逐次処理され、外向きリクエストの
// 同時実行数は常に1に抑えられる。
type Reconciler struct {
	store    store.Store
	esi      ContractFetcher
	tokens   TokenManager
	notifier notify.Notifier
	recorder Recorder
	logger   *slog.Logger

	pendingLinkTTL time.Duration
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(
	st store.Store,
	esiClient ContractFetcher,
	tokens TokenManager,
	notifier notify.Notifier,
	recorder Recorder,
	logger *slog.Logger,
	pendingLinkTTL time.Duration,
) *Reconciler {
	return &Reconciler{
		store:          st,
		esi:            esiClient,
		tokens:         tokens,
		notifier:       notifier,
		recorder:       recorder,
		logger:         logger,
		pendingLinkTTL: pendingLinkTTL,
	}
}

// RunCycle は1回のリコンシリエーションサイクルを実行する。
// セッション単位の失敗はそのセッションをスキップするだけで、
// ループは後続セッションへ継続する。サイクル全体を失敗させるエラーはない。
func (r *Reconciler) RunCycle(ctx context.Context) {
	start := time.Now()

	identities := r.store.Identities()
	sessionCount := 0

	for _, requesterID := range identities {
		for _, session := range r.store.Sessions(requesterID) {
			select {
			case <-ctx.Done():
				return
			default:
			}

			sessionCount++
			r.reconcileSession(ctx, requesterID, session)
		}
	}

	// 放置されたハンドシェイクのPendingLinkをTTLで掃除する
	if r.pendingLinkTTL > 0 {
		if swept := r.store.SweepPendingLinks(time.Now().Add(-r.pendingLinkTTL)); swept > 0 {
			r.logger.Info("期限切れのPendingLinkを削除しました", slog.Int("swept", swept))
			if err := r.store.Persist(); err != nil {
				r.logger.Error("ストアの永続化に失敗しました", slog.String("error", err.Error()))
			}
		}
	}

	duration := time.Since(start)
	r.recorder.RecordCycle(duration)
	r.logger.Info("リコンシリエーションサイクルが完了しました",
		slog.Int("identities", len(identities)),
		slog.Int("sessions", sessionCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// reconcileSession は1セッションのfetch-diff-notify-persistを実行する。
func (r *Reconciler) reconcileSession(ctx context.Context, requesterID string, session *model.CharacterSession) {
	refreshed, err := r.tokens.EnsureFresh(ctx, session)
	if err != nil {
		// トークンをリフレッシュできないセッションはこのサイクルをスキップする。
		// 古いトークンはそのまま残り、次のサイクルで再試行される。
		r.recorder.RecordSessionSkipped("refresh_failed")
		r.logger.Warn("トークンリフレッシュに失敗したためセッションをスキップします",
			slog.Int64("character_id", session.CharacterID),
			slog.String("character_name", session.CharacterName),
			slog.String("error", err.Error()),
		)
		return
	}
	if refreshed {
		if err := r.store.Persist(); err != nil {
			r.logger.Error("ストアの永続化に失敗しました", slog.String("error", err.Error()))
		}
	}

	remote, err := r.esi.Contracts(ctx, session.AccessToken, session.CharacterID)
	if err != nil {
		pollErr := model.NewPollError(model.PollFetchFailed, err)
		r.recorder.RecordSessionSkipped("fetch_failed")
		r.logger.Warn("コントラクト一覧の取得に失敗したためセッションをスキップします",
			slog.Int64("character_id", session.CharacterID),
			slog.String("error", pollErr.Error()),
		)
		return
	}

	result := Diff(session.TrackedContracts, remote)
	transitions := r.resolveSteps(ctx, session, result.Steps)

	session.TrackedContracts = result.Tracked
	session.LastPolled = time.Now()

	// 配送はベストエフォート。失敗してもスナップショット更新は巻き戻さない。
	for _, event := range transitions {
		r.recorder.RecordTransition(string(event.Kind))
		if err := r.notifier.NotifyTransition(ctx, session.NotifyChannel, requesterID, session.CharacterName, event); err != nil {
			r.recorder.RecordNotifyFailure()
			r.logger.Warn("通知の配送に失敗しました",
				slog.String("event_id", event.ID),
				slog.String("kind", string(event.Kind)),
				slog.Int64("contract_id", event.ContractID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := r.store.Persist(); err != nil {
		r.logger.Error("ストアの永続化に失敗しました",
			slog.Int64("character_id", session.CharacterID),
			slog.String("error", err.Error()),
		)
		return
	}

	r.recorder.RecordSessionPolled()
}

// resolveSteps は差分ステップを遷移イベントに解決する。
// StepResolveAbsentは単一コントラクトの詳細フェッチで終端ステータスを解決する。
// 詳細フェッチ自体が失敗した場合は、現在時刻を完了時刻としたfinishedに
// フォールバックする（一覧から消えたコントラクトは圧倒的に完了が多いため）。
func (r *Reconciler) resolveSteps(ctx context.Context, session *model.CharacterSession, steps []Step) []model.Transition {
	var transitions []model.Transition

	for _, step := range steps {
		switch step.Kind {
		case StepAccepted:
			transitions = append(transitions, model.Transition{
				ID:         uuid.New().String(),
				Kind:       model.TransitionAccepted,
				ContractID: step.Contract.ID,
				Title:      step.Contract.Title,
				At:         step.AcceptedAt,
			})

		case StepResolveAbsent:
			detail, err := r.esi.ContractDetail(ctx, session.AccessToken, session.CharacterID, step.Contract.ID)
			if err != nil {
				pollErr := model.NewPollError(model.PollDetailFetchFailed, err)
				r.logger.Warn("詳細フェッチに失敗したためfinishedとして扱います",
					slog.Int64("contract_id", step.Contract.ID),
					slog.String("error", pollErr.Error()),
				)
				transitions = append(transitions, model.Transition{
					ID:         uuid.New().String(),
					Kind:       model.TransitionFinished,
					ContractID: step.Contract.ID,
					Title:      step.Contract.Title,
					At:         time.Now(),
				})
				continue
			}

			switch detail.Status {
			case string(model.ContractStatusFinished):
				at := time.Now()
				if detail.DateCompleted != nil {
					at = *detail.DateCompleted
				}
				transitions = append(transitions, model.Transition{
					ID:         uuid.New().String(),
					Kind:       model.TransitionFinished,
					ContractID: step.Contract.ID,
					Title:      step.Contract.Title,
					At:         at,
				})
			case string(model.ContractStatusRejected):
				at := time.Now()
				if detail.DateExpired != nil {
					at = *detail.DateExpired
				}
				transitions = append(transitions, model.Transition{
					ID:         uuid.New().String(),
					Kind:       model.TransitionRejected,
					ContractID: step.Contract.ID,
					Title:      step.Contract.Title,
					At:         at,
				})
			default:
				// 詳細が終端以外を報告した場合はイベントなしで監視対象から外す
				r.logger.Info("一覧から消えたコントラクトが終端以外を報告しました",
					slog.Int64("contract_id", step.Contract.ID),
					slog.String("status", detail.Status),
				)
			}
		}
	}

	return transitions
}
