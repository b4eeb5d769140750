// Package model はドメインモデルを定義する。
package model

import "time"

// TrackedContract はリモートで観測したコントラクトのローカルスナップショット。
type TrackedContract struct {
	ID       int64          `json:"id"`
	Title    string         `json:"title"`
	IssuedAt time.Time      `json:"issued_at"`
	Status   ContractStatus `json:"status"`
}

// ContractStatus はコントラクトのライフサイクル上のステータスを表す。
// 遷移は outstanding -> in_progress -> {finished, rejected} の前方エッジと、
// ポーリング間隔により中間状態を観測できなかった場合の
// outstanding -> {finished, rejected} の直接エッジのみ許可される。
type ContractStatus string

const (
	// ContractStatusOutstanding は未受諾のコントラクト。
	ContractStatusOutstanding ContractStatus = "outstanding"
	// ContractStatusInProgress は受諾済みで進行中のコントラクト。
	ContractStatusInProgress ContractStatus = "in_progress"
	// ContractStatusFinished は完了したコントラクト（終端）。
	ContractStatusFinished ContractStatus = "finished"
	// ContractStatusRejected は拒否されたコントラクト（終端）。
	ContractStatusRejected ContractStatus = "rejected"
)

// IsTerminal はステータスが終端（finished/rejected）かを返す。
// 終端に達したコントラクトはTrackedContractsから削除される。
func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusFinished || s == ContractStatusRejected
}

// TransitionKind は通知対象となるステータス遷移の種別を表す。
type TransitionKind string

const (
	// TransitionAccepted は outstanding -> in_progress の遷移。
	TransitionAccepted TransitionKind = "accepted"
	// TransitionFinished は終端 finished への遷移。
	TransitionFinished TransitionKind = "finished"
	// TransitionRejected は終端 rejected への遷移。
	TransitionRejected TransitionKind = "rejected"
)

// Transition は差分検出ステップが生成するステータス遷移イベント。
// Notifierが発生順に消費する。IDはログとメトリクスの相関用。
type Transition struct {
	ID         string
	Kind       TransitionKind
	ContractID int64
	Title      string
	At         time.Time
}
