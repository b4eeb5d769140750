// Package model はドメインモデルを定義する。
package model

import "time"

// CharacterSession はリンク済みEVEキャラクターの監視セッションを表す。
// リンク成功時に作成され、requesterのセッションリスト内でCharacterIDにより
// 一意に識別される。再リンクやトークンリフレッシュ時はin-placeで更新される。
type CharacterSession struct {
	CharacterID   int64     `json:"character_id"`
	CharacterName string    `json:"character_name"`
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	ExpiresAt     time.Time `json:"expires_at"`
	NotifyChannel string    `json:"notify_channel"`
	LastPolled    time.Time `json:"last_polled"`

	// TrackedContracts は監視中のコントラクトのスナップショット。
	// IDはリスト内で一意。終端ステータスに達したコントラクトは保持しない。
	TrackedContracts []TrackedContract `json:"tracked_contracts"`
}

// PendingLink はOAuthハンドシェイク進行中の相関データを表す。
// stateノンスをキーとして保存され、コールバック到着時に1回だけ消費される。
type PendingLink struct {
	Verifier      string    `json:"verifier"`
	RequesterID   string    `json:"requester_id"`
	NotifyChannel string    `json:"notify_channel"`
	CreatedAt     time.Time `json:"created_at"`
}
