package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/contractwatch/internal/model"
	"github.com/hitoshi/contractwatch/internal/store"
)

// SessionHandler はセッション管理のHTTPハンドラー。
// 除外されたコマンドレイヤー（チャットボット等）が呼び出すための操作面を提供する。
type SessionHandler struct {
	store store.Store
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(st store.Store) *SessionHandler {
	return &SessionHandler{store: st}
}

// sessionView はAPIレスポンス用のセッション表現。
// 認証情報は決して外部に返さない。
type sessionView struct {
	CharacterID      int64                   `json:"character_id"`
	CharacterName    string                  `json:"character_name"`
	ExpiresAt        time.Time               `json:"expires_at"`
	LastPolled       time.Time               `json:"last_polled"`
	TrackedContracts []model.TrackedContract `json:"tracked_contracts"`
}

// ListSessions は指定requesterのセッション一覧を返す。
// GET /api/sessions?requester_id=xxx
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	requesterID := r.URL.Query().Get("requester_id")
	if requesterID == "" {
		writeError(w, http.StatusBadRequest, "requester_id is required")
		return
	}

	// ポーリングサイクルと同時に読むため、ストア内部へのポインタではなく
	// コピーを取得する
	sessions := h.store.SessionsCopy(requesterID)
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			CharacterID:      s.CharacterID,
			CharacterName:    s.CharacterName,
			ExpiresAt:        s.ExpiresAt,
			LastPolled:       s.LastPolled,
			TrackedContracts: s.TrackedContracts,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"sessions": views})
}

// removeSessionRequest はセッション削除リクエストのボディ。
type removeSessionRequest struct {
	RequesterID   string `json:"requester_id"`
	CharacterName string `json:"character_name"`
}

// RemoveSession はキャラクター名でセッションを削除する。
// DELETE /api/sessions
func (h *SessionHandler) RemoveSession(w http.ResponseWriter, r *http.Request) {
	var req removeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RequesterID == "" || req.CharacterName == "" {
		writeError(w, http.StatusBadRequest, "requester_id and character_name are required")
		return
	}

	if !h.store.Remove(req.RequesterID, req.CharacterName) {
		writeError(w, http.StatusNotFound, "character not found")
		return
	}
	if err := h.store.Persist(); err != nil {
		slog.Error("failed to persist after remove", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	slog.Info("session removed",
		slog.String("requester_id", req.RequesterID),
		slog.String("character_name", req.CharacterName),
	)
	w.WriteHeader(http.StatusNoContent)
}

// resetPollRequest はポーリングタイムスタンプリセットのボディ。
type resetPollRequest struct {
	RequesterID string `json:"requester_id"`
}

// ResetPoll は指定requesterの全セッションのLastPolledを現在時刻に更新する。
// POST /api/sessions/resetpoll
func (h *SessionHandler) ResetPoll(w http.ResponseWriter, r *http.Request) {
	var req resetPollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RequesterID == "" {
		writeError(w, http.StatusBadRequest, "requester_id is required")
		return
	}

	count := h.store.ResetLastPolled(req.RequesterID, time.Now())
	if count > 0 {
		if err := h.store.Persist(); err != nil {
			slog.Error("failed to persist after reset", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"reset": count})
}
