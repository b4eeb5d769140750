// Package token はアクセストークンのライフサイクル管理を提供する。
// ハンドシェイクとリコンサイラの両方から再利用される。
package token

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/contractwatch/internal/auth"
	"github.com/hitoshi/contractwatch/internal/model"
)

// RefreshProvider はrefresh_tokenグラントの実行インターフェース。
type RefreshProvider interface {
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenResponse, error)
}

// Manager はセッションのトークン鮮度を管理する。
type Manager struct {
	provider RefreshProvider
}

// NewManager はManagerを生成する。
func NewManager(provider RefreshProvider) *Manager {
	return &Manager{provider: provider}
}

// EnsureFresh はセッションのアクセストークンが期限切れの場合にリフレッシュする。
// リフレッシュを実行した場合はtrueを返し、呼び出し側に永続化を促す。
//
// 失敗時はセッションを一切変異させずRefreshErrorを返す。古いトークンは
// そのまま残るため、次のサイクルで再試行できる。永続化は呼び出し側の責務。
func (m *Manager) EnsureFresh(ctx context.Context, session *model.CharacterSession) (bool, error) {
	if time.Now().Before(session.ExpiresAt) {
		return false, nil
	}

	tokens, err := m.provider.Refresh(ctx, session.RefreshToken)
	if err != nil {
		code := model.RefreshNetworkFailure
		if errors.Is(err, auth.ErrInvalidGrant) {
			code = model.RefreshInvalidGrant
		}
		return false, model.NewRefreshError(code, err)
	}

	session.AccessToken = tokens.AccessToken
	session.ExpiresAt = time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	if tokens.RefreshToken != "" {
		// issuerがリフレッシュトークンをローテーションした場合のみ差し替える
		session.RefreshToken = tokens.RefreshToken
	}

	slog.Info("access token refreshed",
		slog.Int64("character_id", session.CharacterID),
		slog.String("access_token", Mask(session.AccessToken)),
		slog.Time("expires_at", session.ExpiresAt),
	)

	return true, nil
}

// Mask はログ出力用にトークンを短縮する。トークン全体は決してログに出さない。
func Mask(token string) string {
	if len(token) <= 8 {
		return "********"
	}
	return token[:8] + "..."
}
