// Package notify はステータス遷移イベントのチャネル配送を提供する。
// チャネルはDiscord互換のwebhook URLとして表現される。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/contractwatch/internal/model"
)

// Notifier は遷移イベントとリンク完了メッセージの配送インターフェース。
// 配送は常にベストエフォートであり、失敗してもコミット済みの
// 状態変更はロールバックされない。
type Notifier interface {
	// NotifyTransition は遷移イベントを整形してチャネルに配送する。
	NotifyTransition(ctx context.Context, channel, requesterID, characterName string, event model.Transition) error
	// NotifyLinked はリンク完了メッセージをチャネルに配送する。
	NotifyLinked(ctx context.Context, channel, requesterID, characterName string) error
}

// SafeClientFactory はSSRF防止機能付きHTTPクライアントの生成インターフェース。
// webhook URLは外部から供給されるため、配送には必ず保護付きクライアントを使用する。
type SafeClientFactory interface {
	NewSafeClient(timeout time.Duration) *http.Client
}

// WebhookNotifier はDiscord webhook形式でメッセージを配送するNotifier実装。
type WebhookNotifier struct {
	client  *http.Client
	timeout time.Duration
}

// NewWebhookNotifier はWebhookNotifierを生成する。
func NewWebhookNotifier(factory SafeClientFactory, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		client:  factory.NewSafeClient(timeout),
		timeout: timeout,
	}
}

// webhookPayload はDiscord webhookのリクエストボディ。
type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

// embed はDiscordのembedオブジェクト。
type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// 遷移種別ごとのembed表示。色は従来のボットと同じ値を使用する。
var transitionStyles = map[model.TransitionKind]struct {
	title  string
	status string
	color  int
}{
	model.TransitionAccepted: {title: "Contract Accepted!", status: "Accepted", color: 0x0099ff},
	model.TransitionFinished: {title: "Contract Completed!", status: "Finished", color: 0x00ff00},
	model.TransitionRejected: {title: "Contract Rejected!", status: "Rejected", color: 0xff0000},
}

// NotifyTransition は遷移イベントをembed形式で配送する。
func (n *WebhookNotifier) NotifyTransition(ctx context.Context, channel, requesterID, characterName string, event model.Transition) error {
	style, ok := transitionStyles[event.Kind]
	if !ok {
		return fmt.Errorf("unknown transition kind: %s", event.Kind)
	}

	payload := webhookPayload{
		Content: fmt.Sprintf("<@%s>", requesterID),
		Embeds: []embed{{
			Title:       style.title,
			Description: fmt.Sprintf("**%s**", characterName),
			Color:       style.color,
			Fields: []embedField{
				{Name: "Status", Value: style.status, Inline: true},
				{Name: "ID", Value: fmt.Sprintf("%d", event.ContractID), Inline: true},
				{Name: "Title", Value: event.Title},
				{Name: "Time", Value: fmt.Sprintf("<t:%d:F>", event.At.Unix())},
			},
		}},
	}

	if err := n.deliver(ctx, channel, payload); err != nil {
		return err
	}

	slog.Info("transition notification delivered",
		slog.String("event_id", event.ID),
		slog.String("kind", string(event.Kind)),
		slog.Int64("contract_id", event.ContractID),
		slog.String("requester_id", requesterID),
	)
	return nil
}

// NotifyLinked はリンク完了メッセージを配送する。
func (n *WebhookNotifier) NotifyLinked(ctx context.Context, channel, requesterID, characterName string) error {
	payload := webhookPayload{
		Content: fmt.Sprintf("**%s** linked! Use /status.", characterName),
	}
	return n.deliver(ctx, channel, payload)
}

// deliver はwebhook URLにペイロードをPOSTする。
func (n *WebhookNotifier) deliver(ctx context.Context, webhookURL string, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery failed with status %d", resp.StatusCode)
	}
	return nil
}

// compile-time interface check
var _ Notifier = (*WebhookNotifier)(nil)
