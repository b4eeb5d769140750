// Package auth はEVE SSOとのOAuth2/PKCEリンクハンドシェイクを提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/contractwatch/internal/esi"
	"github.com/hitoshi/contractwatch/internal/model"
	"github.com/hitoshi/contractwatch/internal/store"
)

// TokenExchanger はリンクサービスが必要とするSSOプロバイダーのインターフェース。
type TokenExchanger interface {
	// AuthorizeURL はPKCEチャレンジとstateノンスを埋め込んだ認可URLを生成する。
	AuthorizeURL(state, challenge string) string
	// ExchangeCode は認可コードとverifierをトークンペアに交換する。
	ExchangeCode(ctx context.Context, code, verifier string) (*TokenResponse, error)
}

// CharacterFetcher はキャラクター情報の取得インターフェース。
type CharacterFetcher interface {
	Character(ctx context.Context, accessToken string, characterID int64) (*esi.Character, error)
}

// LinkedNotifier はリンク完了通知の配送インターフェース。
type LinkedNotifier interface {
	NotifyLinked(ctx context.Context, channel, requesterID, characterName string) error
}

// Service はリンクハンドシェイクのビジネスロジックを提供する。
type Service struct {
	provider TokenExchanger
	esi      CharacterFetcher
	store    store.Store
	notifier LinkedNotifier
}

// NewService はServiceを生成する。
func NewService(provider TokenExchanger, esiClient CharacterFetcher, st store.Store, notifier LinkedNotifier) *Service {
	return &Service{
		provider: provider,
		esi:      esiClient,
		store:    st,
		notifier: notifier,
	}
}

// BeginLink はリンクハンドシェイクを開始し、認可URLを返す。
// stateノンスとPKCEペアを生成し、PendingLinkをノンスをキーとして保存する。
func (s *Service) BeginLink(requesterID, notifyChannel string) (string, error) {
	state, err := GenerateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	pkce, err := GeneratePKCE()
	if err != nil {
		return "", fmt.Errorf("failed to generate PKCE pair: %w", err)
	}

	s.store.CreatePendingLink(state, model.PendingLink{
		Verifier:      pkce.Verifier,
		RequesterID:   requesterID,
		NotifyChannel: notifyChannel,
		CreatedAt:     time.Now(),
	})
	if err := s.store.Persist(); err != nil {
		return "", fmt.Errorf("failed to persist pending link: %w", err)
	}

	slog.Info("link handshake started",
		slog.String("requester_id", requesterID),
		slog.String("state", state),
	)

	return s.provider.AuthorizeURL(state, pkce.Challenge), nil
}

// CompleteLink はOAuthコールバックを処理し、CharacterSessionをコミットする。
// PendingLinkは成否にかかわらずexactly-onceで消費される。失敗した試行の
// 後はrequesterがBeginLinkからやり直す必要がある。
//
// 同一キャラクターが同一requesterの下で再リンクされた場合、既存セッションが
// in-placeで更新され、監視中のコントラクトコレクションは保持される。
func (s *Service) CompleteLink(ctx context.Context, code, nonce string) (*model.CharacterSession, error) {
	pending, ok := s.store.ConsumePendingLink(nonce)
	if !ok {
		return nil, model.NewLinkError(model.LinkInvalidState, fmt.Errorf("unknown state nonce"))
	}
	// 消費はコールバック失敗時にも有効なので、即座に永続化する
	if err := s.store.Persist(); err != nil {
		slog.Error("failed to persist pending link consumption", slog.String("error", err.Error()))
	}

	tokens, err := s.provider.ExchangeCode(ctx, code, pending.Verifier)
	if err != nil {
		return nil, model.NewLinkError(model.LinkTokenExchangeFailed, err)
	}

	characterID, err := CharacterIDFromToken(tokens.AccessToken)
	if err != nil {
		return nil, model.NewLinkError(model.LinkTokenExchangeFailed, err)
	}

	character, err := s.esi.Character(ctx, tokens.AccessToken, characterID)
	if err != nil {
		return nil, model.NewLinkError(model.LinkProfileFetchFailed, err)
	}

	now := time.Now()
	session := &model.CharacterSession{
		CharacterID:      characterID,
		CharacterName:    character.Name,
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		ExpiresAt:        now.Add(time.Duration(tokens.ExpiresIn) * time.Second),
		NotifyChannel:    pending.NotifyChannel,
		LastPolled:       now,
		TrackedContracts: []model.TrackedContract{},
	}

	s.store.Upsert(pending.RequesterID, session)
	if err := s.store.Persist(); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	slog.Info("character linked",
		slog.String("requester_id", pending.RequesterID),
		slog.Int64("character_id", characterID),
		slog.String("character_name", character.Name),
	)

	// リンク完了通知はベストエフォート。配送失敗はコミット済み状態をロールバックしない。
	if err := s.notifier.NotifyLinked(ctx, pending.NotifyChannel, pending.RequesterID, character.Name); err != nil {
		slog.Warn("failed to deliver linked notification",
			slog.String("requester_id", pending.RequesterID),
			slog.String("error", err.Error()),
		)
	}

	return session, nil
}
