package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CycleRunner はスケジューラが駆動するリコンシリエーションのインターフェース。
type CycleRunner interface {
	RunCycle(ctx context.Context)
}

// Scheduler はリコンシリエーションサイクルの定期実行を行う。
// 起動直後は初期ロードとの競合を避けるためgrace delayの後に1回実行し、
// 以降は固定間隔のティッカーで実行する。
//
// 前のサイクルがまだ実行中の場合、新しいサイクルはスキップされる
// （リエントランシーガード）。外部レスポンスが遅い場合でも
// サイクルが重なってストアを競合させることはない。
type Scheduler struct {
	runner CycleRunner
	logger *slog.Logger

	mu sync.Mutex
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(runner CycleRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		logger: logger,
	}
}

// Start はスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, graceDelay, interval time.Duration) {
	s.logger.Info("ポーリングスケジューラを開始しました",
		slog.Duration("grace_delay", graceDelay),
		slog.Duration("interval", interval),
	)

	// 起動直後の実行はgrace delayの後に行う
	select {
	case <-ctx.Done():
		s.logger.Info("ポーリングスケジューラを停止しました")
		return
	case <-time.After(graceDelay):
		s.RunOnce(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ポーリングスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は1サイクルを実行する。前のサイクルが実行中の場合はスキップする。
func (s *Scheduler) RunOnce(ctx context.Context) {
	if !s.mu.TryLock() {
		s.logger.Warn("前のサイクルが実行中のためスキップします")
		return
	}
	defer s.mu.Unlock()

	s.runner.RunCycle(ctx)
}
