// Package store はリンク済みセッションとPendingLinkのプロセス内ストアを提供する。
// インメモリ構造がsource of truthであり、永続化はフルスナップショット書き込みで行う。
// ディスク（またはDB）上のコピーは起動時に1回だけ読み込まれる。
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/contractwatch/internal/model"
)

// Store はセッションストアのインターフェース。
// ハンドシェイクとリコンサイラの両方に注入される。
// 状態を変更した呼び出し側は、結果をコミット済みとして報告する前に
// Persistを呼び出す必要がある。
type Store interface {
	// Identities はセッションを持つrequester IDを決定的な順序（ソート済み）で返す。
	Identities() []string
	// Sessions は指定requesterのセッションを返す。
	// 返されるポインタはストア内部の実体を指し、呼び出し側のin-place変異を許す。
	Sessions(requesterID string) []*model.CharacterSession
	// SessionsCopy は指定requesterのセッションの値コピーを返す。
	// リコンサイラがSessionsのポインタ経由で変異を行うため、
	// 読み取り専用の呼び出し側（HTTPハンドラー等）はこちらを使う。
	SessionsCopy(requesterID string) []model.CharacterSession
	// Upsert はセッションを追加または更新する。
	// 同一CharacterIDのセッションが既に存在する場合は認証情報・有効期限・
	// ポーリング時刻をin-placeで更新し、TrackedContractsは既存のものを保持する。
	Upsert(requesterID string, session *model.CharacterSession)
	// Remove はキャラクター名（大文字小文字を区別しない）でセッションを削除する。
	Remove(requesterID string, characterName string) bool
	// ResetLastPolled は指定requesterの全セッションのLastPolledを更新する。
	// 更新したセッション数を返す。
	ResetLastPolled(requesterID string, now time.Time) int
	// CreatePendingLink はstateノンスをキーとしてPendingLinkを保存する。
	CreatePendingLink(nonce string, link model.PendingLink)
	// ConsumePendingLink はPendingLinkを取得して削除する（exactly-once）。
	// ノンスが未知または消費済みの場合はfalseを返す。
	ConsumePendingLink(nonce string) (*model.PendingLink, bool)
	// SweepPendingLinks は指定時刻より前に作成されたPendingLinkを削除し、件数を返す。
	SweepPendingLinks(olderThan time.Time) int
	// Persist は現在の状態のフルスナップショットを同期的に書き込む。
	Persist() error
}

// snapshot はストアの永続化レイアウト。
// requester ID → セッションリストのマップと、ノンス → PendingLinkのマップを持つ。
type snapshot struct {
	Users   map[string][]*model.CharacterSession `json:"users"`
	Pending map[string]model.PendingLink         `json:"pending"`
}

func newSnapshot() *snapshot {
	return &snapshot{
		Users:   make(map[string][]*model.CharacterSession),
		Pending: make(map[string]model.PendingLink),
	}
}

// Backend はスナップショットの読み書きを抽象化する。
// ファイルバックエンドとPostgresバックエンドが実装する。
type Backend interface {
	// Load は永続化済みスナップショットを読み込む。存在しない場合は空を返す。
	Load() (*snapshot, error)
	// Save はスナップショット全体を書き込む。部分書き込みは公開されない。
	Save(*snapshot) error
}

// MemoryStore はStoreのインメモリ実装。
// 永続化はBackendに委譲する。
type MemoryStore struct {
	mu      sync.RWMutex
	data    *snapshot
	backend Backend
}

// Open はバックエンドからスナップショットを読み込んでMemoryStoreを生成する。
func Open(backend Backend) (*MemoryStore, error) {
	data, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load store snapshot: %w", err)
	}
	if data == nil {
		data = newSnapshot()
	}
	if data.Users == nil {
		data.Users = make(map[string][]*model.CharacterSession)
	}
	if data.Pending == nil {
		data.Pending = make(map[string]model.PendingLink)
	}
	return &MemoryStore{data: data, backend: backend}, nil
}

// Identities はセッションを持つrequester IDをソート済みで返す。
func (s *MemoryStore) Identities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data.Users))
	for id, sessions := range s.data.Users {
		if len(sessions) == 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sessions は指定requesterのセッションを返す。
func (s *MemoryStore) Sessions(requesterID string) []*model.CharacterSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := s.data.Users[requesterID]
	out := make([]*model.CharacterSession, len(sessions))
	copy(out, sessions)
	return out
}

// SessionsCopy は指定requesterのセッションの値コピーを返す。
func (s *MemoryStore) SessionsCopy(requesterID string) []model.CharacterSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := s.data.Users[requesterID]
	out := make([]model.CharacterSession, 0, len(sessions))
	for _, session := range sessions {
		c := *session
		c.TrackedContracts = append([]model.TrackedContract(nil), session.TrackedContracts...)
		out = append(out, c)
	}
	return out
}

// Upsert はセッションを追加または更新する。
func (s *MemoryStore) Upsert(requesterID string, session *model.CharacterSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Users[requesterID] {
		if existing.CharacterID == session.CharacterID {
			// 再リンク: 認証情報と有効期限を更新する。
			// 監視中コントラクトと通知チャネルは既存のものを保持する。
			existing.CharacterName = session.CharacterName
			existing.AccessToken = session.AccessToken
			existing.RefreshToken = session.RefreshToken
			existing.ExpiresAt = session.ExpiresAt
			existing.LastPolled = session.LastPolled
			return
		}
	}

	if session.TrackedContracts == nil {
		session.TrackedContracts = []model.TrackedContract{}
	}
	s.data.Users[requesterID] = append(s.data.Users[requesterID], session)
}

// Remove はキャラクター名でセッションを削除する。大文字小文字は区別しない。
func (s *MemoryStore) Remove(requesterID string, characterName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.data.Users[requesterID]
	for i, session := range sessions {
		if strings.EqualFold(session.CharacterName, characterName) {
			s.data.Users[requesterID] = append(sessions[:i], sessions[i+1:]...)
			if len(s.data.Users[requesterID]) == 0 {
				delete(s.data.Users, requesterID)
			}
			return true
		}
	}
	return false
}

// ResetLastPolled は指定requesterの全セッションのLastPolledを更新する。
func (s *MemoryStore) ResetLastPolled(requesterID string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.data.Users[requesterID]
	for _, session := range sessions {
		session.LastPolled = now
	}
	return len(sessions)
}

// CreatePendingLink はstateノンスをキーとしてPendingLinkを保存する。
func (s *MemoryStore) CreatePendingLink(nonce string, link model.PendingLink) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Pending[nonce] = link
}

// ConsumePendingLink はPendingLinkを取得して削除する。
func (s *MemoryStore) ConsumePendingLink(nonce string) (*model.PendingLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.data.Pending[nonce]
	if !ok {
		return nil, false
	}
	delete(s.data.Pending, nonce)
	return &link, true
}

// SweepPendingLinks は期限切れのPendingLinkを削除する。
func (s *MemoryStore) SweepPendingLinks(olderThan time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for nonce, link := range s.data.Pending {
		if link.CreatedAt.Before(olderThan) {
			delete(s.data.Pending, nonce)
			swept++
		}
	}
	return swept
}

// Persist は現在の状態をバックエンドに書き込む。
func (s *MemoryStore) Persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.backend.Save(s.data); err != nil {
		return fmt.Errorf("failed to persist store snapshot: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
