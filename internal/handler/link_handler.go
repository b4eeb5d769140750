// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/contractwatch/internal/model"
)

// LinkServiceInterface はリンクハンドラーが必要とするサービスインターフェース。
type LinkServiceInterface interface {
	BeginLink(requesterID, notifyChannel string) (string, error)
	CompleteLink(ctx context.Context, code, nonce string) (*model.CharacterSession, error)
}

// ChannelValidator は通知チャネル（webhook URL）の事前検証インターフェース。
type ChannelValidator interface {
	ValidateURL(rawURL string) error
}

// LinkRecorder はハンドシェイクのメトリクス収集インターフェース。
type LinkRecorder interface {
	RecordLinkStarted()
	RecordLinkCompleted(result string)
}

// LinkHandler はリンクハンドシェイク関連のHTTPハンドラー。
type LinkHandler struct {
	service   LinkServiceInterface
	validator ChannelValidator
	recorder  LinkRecorder
}

// NewLinkHandler はLinkHandlerを生成する。
func NewLinkHandler(service LinkServiceInterface, validator ChannelValidator, recorder LinkRecorder) *LinkHandler {
	return &LinkHandler{
		service:   service,
		validator: validator,
		recorder:  recorder,
	}
}

// beginLinkRequest はリンク開始リクエストのボディ。
type beginLinkRequest struct {
	RequesterID   string `json:"requester_id"`
	NotifyChannel string `json:"notify_channel"`
}

// BeginLink はリンクハンドシェイクを開始し、認可URLを返す。
// POST /api/link
func (h *LinkHandler) BeginLink(w http.ResponseWriter, r *http.Request) {
	var req beginLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RequesterID == "" || req.NotifyChannel == "" {
		writeError(w, http.StatusBadRequest, "requester_id and notify_channel are required")
		return
	}

	// 通知チャネルは外部から供給されるURLのため、受け付ける前にSSRF検証を行う
	if err := h.validator.ValidateURL(req.NotifyChannel); err != nil {
		slog.Warn("rejected notify channel",
			slog.String("requester_id", req.RequesterID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "notify_channel is not an acceptable webhook URL")
		return
	}

	authURL, err := h.service.BeginLink(req.RequesterID, req.NotifyChannel)
	if err != nil {
		slog.Error("failed to begin link", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.recorder.RecordLinkStarted()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"auth_url": authURL})
}

// Callback はOAuthコールバックを処理する。
// GET /callback?code=xxx&state=yyy
// レスポンスは人間が読めるHTMLページ。失敗の詳細はrequesterに公開しない。
func (h *LinkHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" || state == "" {
		h.recorder.RecordLinkCompleted(string(model.LinkInvalidState))
		writeHTML(w, http.StatusBadRequest, invalidLinkPage)
		return
	}

	session, err := h.service.CompleteLink(r.Context(), code, state)
	if err != nil {
		var linkErr *model.LinkError
		if errors.As(err, &linkErr) {
			h.recorder.RecordLinkCompleted(string(linkErr.Code))
			if linkErr.Code == model.LinkInvalidState {
				writeHTML(w, http.StatusBadRequest, invalidLinkPage)
				return
			}
		} else {
			h.recorder.RecordLinkCompleted("internal_error")
		}
		slog.Error("link callback failed", slog.String("error", err.Error()))
		writeHTML(w, http.StatusInternalServerError, linkFailedPage)
		return
	}

	h.recorder.RecordLinkCompleted("success")
	writeHTML(w, http.StatusOK, fmt.Sprintf(linkSuccessPage, session.CharacterName))
}

// コールバックのHTMLレスポンス。従来のボットと同じ文言を使用する。
const (
	invalidLinkPage = "<h1>Invalid Link</h1><p>Run /setup again.</p>"
	linkFailedPage  = "<h1>Failed</h1><p>Try /setup again.</p>"
	linkSuccessPage = "<h1>Success!</h1><p>%s is now linked. Close tab.</p>"
)

// writeHTML はHTMLレスポンスを書き込む。
func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

// writeError はJSONエラーレスポンスを書き込む。
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
