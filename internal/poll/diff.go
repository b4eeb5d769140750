// Package poll はリモートコントラクト状態の定期リコンシリエーションを提供する。
// スケジューラ、リコンサイラ、純粋な差分検出ステップを含む。
package poll

import (
	"time"

	"github.com/hitoshi/contractwatch/internal/esi"
	"github.com/hitoshi/contractwatch/internal/model"
)

// StepKind は差分検出が生成する処理ステップの種別。
type StepKind int

const (
	// StepAccepted は outstanding -> in_progress 遷移の検出。
	// accepted遷移イベントの発行対象となる。
	StepAccepted StepKind = iota
	// StepResolveAbsent はリモート一覧から消えたコントラクトの検出。
	// 終端ステータスの解決には詳細フェッチが必要となる。
	StepResolveAbsent
)

// Step は1つの監視中コントラクトに対する処理ステップ。
// Stepsは監視リストの順序を保持するため、イベントは発生順に発行される。
type Step struct {
	Kind     StepKind
	Contract model.TrackedContract
	// AcceptedAt はStepAcceptedの場合のリモート受諾時刻。
	AcceptedAt time.Time
}

// Result は差分検出ステップの出力。
type Result struct {
	// Tracked は次のスナップショット。新規コントラクトの追加と
	// accepted昇格を反映し、一覧から消えたコントラクトを除外したもの。
	// 消えたコントラクトは終端扱いとなり監視対象から外れる。
	Tracked []model.TrackedContract
	// Steps は通知・解決が必要な処理ステップ（監視リスト順）。
	Steps []Step
}

// Diff は監視中スナップショットとリモート一覧を比較する。
// ネットワーク呼び出しを含まない純粋な計算であり、状態機械の
// 遷移判定はすべてここに集約される。
//
// ルール:
//   - リモートのoutstandingコントラクトで未監視のものは、通知なしで
//     監視リストに追加される（新規検出はサイレントな記録のみ）。
//   - 監視中がoutstandingでリモートがin_progressならaccepted遷移を生成し、
//     ステータスをin_progressへ進める。
//   - 監視中コントラクトがリモート一覧に存在しない場合はStepResolveAbsentを
//     生成し、スナップショットから除外する。
//   - その他の組み合わせはno-op。逆方向の遷移は発生しない。
func Diff(tracked []model.TrackedContract, remote []esi.Contract) Result {
	remoteByID := make(map[int64]esi.Contract, len(remote))
	for _, c := range remote {
		remoteByID[c.ContractID] = c
	}

	trackedIDs := make(map[int64]struct{}, len(tracked))
	for _, t := range tracked {
		trackedIDs[t.ID] = struct{}{}
	}

	result := Result{
		Tracked: make([]model.TrackedContract, 0, len(tracked)),
	}

	for _, t := range tracked {
		active, present := remoteByID[t.ID]

		if !present {
			if t.Status == model.ContractStatusOutstanding || t.Status == model.ContractStatusInProgress {
				result.Steps = append(result.Steps, Step{
					Kind:     StepResolveAbsent,
					Contract: t,
				})
			}
			// 一覧から消えたコントラクトは終端扱いで監視対象から外す
			continue
		}

		if t.Status == model.ContractStatusOutstanding && active.Status == string(model.ContractStatusInProgress) {
			acceptedAt := time.Now()
			if active.DateAccepted != nil {
				acceptedAt = *active.DateAccepted
			}
			result.Steps = append(result.Steps, Step{
				Kind:       StepAccepted,
				Contract:   t,
				AcceptedAt: acceptedAt,
			})
			t.Status = model.ContractStatusInProgress
		}

		result.Tracked = append(result.Tracked, t)
	}

	// 新規検出: リモートでoutstandingかつ未監視のコントラクトを追加する
	for _, c := range remote {
		if c.Status != string(model.ContractStatusOutstanding) {
			continue
		}
		if _, ok := trackedIDs[c.ContractID]; ok {
			continue
		}
		title := c.Title
		if title == "" {
			title = "—"
		}
		result.Tracked = append(result.Tracked, model.TrackedContract{
			ID:       c.ContractID,
			Title:    title,
			IssuedAt: c.DateIssued,
			Status:   model.ContractStatusOutstanding,
		})
	}

	return result
}
