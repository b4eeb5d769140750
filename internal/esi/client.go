// Package esi はEVE Swagger Interface (ESI) のHTTPクライアントを提供する。
// コントラクト一覧・詳細とキャラクター情報の取得をBearer認証で行う。
package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Contract はESIが返すコントラクトレコード。
// Statusの値はmodel.ContractStatusの値と同一の文字列表現を使用する。
type Contract struct {
	ContractID    int64      `json:"contract_id"`
	Status        string     `json:"status"`
	Title         string     `json:"title"`
	DateIssued    time.Time  `json:"date_issued"`
	DateAccepted  *time.Time `json:"date_accepted"`
	DateCompleted *time.Time `json:"date_completed"`
	DateExpired   *time.Time `json:"date_expired"`
}

// Character はESIのキャラクター情報エンドポイントのレスポンス。
type Character struct {
	Name string `json:"name"`
}

// ClientConfig はESIクライアントの設定。
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration

	// 外向きリクエストのレート制限。ESIのエラーレート制限への
	// 抵触を避けるため、全エンドポイント共通で適用する。
	Rate  float64
	Burst int
}

// Client はESIのHTTPクライアント。
// 全リクエストはtoken bucketレートリミッターを通過してから送信される。
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient はClientを生成する。
func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Rate <= 0 {
		config.Rate = 10
	}
	if config.Burst <= 0 {
		config.Burst = 20
	}
	return &Client{
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.Rate), config.Burst),
	}
}

// Character はキャラクターの公開情報を取得する。
func (c *Client) Character(ctx context.Context, accessToken string, characterID int64) (*Character, error) {
	url := fmt.Sprintf("%s/characters/%d/", c.baseURL, characterID)

	var character Character
	if err := c.getJSON(ctx, url, accessToken, &character); err != nil {
		return nil, fmt.Errorf("failed to fetch character %d: %w", characterID, err)
	}
	if character.Name == "" {
		return nil, fmt.Errorf("empty name in character response for %d", characterID)
	}
	return &character, nil
}

// Contracts はキャラクターのコントラクト一覧を取得する。
// ESIはアクティブなコントラクトと直近の終端コントラクトを返すが、
// 古い終端コントラクトは一覧から消えることがある。
func (c *Client) Contracts(ctx context.Context, accessToken string, characterID int64) ([]Contract, error) {
	url := fmt.Sprintf("%s/characters/%d/contracts/?datasource=tranquility", c.baseURL, characterID)

	var contracts []Contract
	if err := c.getJSON(ctx, url, accessToken, &contracts); err != nil {
		return nil, fmt.Errorf("failed to fetch contracts for character %d: %w", characterID, err)
	}
	return contracts, nil
}

// ContractDetail は単一コントラクトの詳細を取得する。
// 一覧から消えたコントラクトの終端ステータスを解決するために使用する。
func (c *Client) ContractDetail(ctx context.Context, accessToken string, characterID, contractID int64) (*Contract, error) {
	url := fmt.Sprintf("%s/characters/%d/contracts/%d/?datasource=tranquility", c.baseURL, characterID, contractID)

	var contract Contract
	if err := c.getJSON(ctx, url, accessToken, &contract); err != nil {
		return nil, fmt.Errorf("failed to fetch contract %d detail: %w", contractID, err)
	}
	return &contract, nil
}

// getJSON はレート制限を通過した後、Bearer認証付きGETを実行してJSONをデコードする。
func (c *Client) getJSON(ctx context.Context, url, accessToken string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
