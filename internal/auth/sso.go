package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidGrant はリフレッシュトークンがissuerに拒否されたことを示す。
// ネットワーク障害と区別され、呼び出し側でのエラー分類に使用される。
var ErrInvalidGrant = errors.New("invalid grant")

// SSOConfig はEVE SSOプロバイダーの設定。
type SSOConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string

	Timeout time.Duration
}

// TokenResponse はトークンエンドポイントのレスポンス。
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// SSOProvider はEVE SSOのOAuth 2.0 (PKCE) 認証を提供する。
type SSOProvider struct {
	config     SSOConfig
	httpClient *http.Client
}

// NewSSOProvider はSSOProviderを生成する。
func NewSSOProvider(config SSOConfig) *SSOProvider {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &SSOProvider{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// AuthorizeURL はPKCEチャレンジとstateノンスを埋め込んだ認可URLを生成する。
func (p *SSOProvider) AuthorizeURL(state, challenge string) string {
	params := url.Values{
		"response_type":         {"code"},
		"redirect_uri":          {p.config.CallbackURL},
		"client_id":             {p.config.ClientID},
		"scope":                 {p.config.Scopes},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"state":                 {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode は認可コードとPKCE verifierをトークンペアに交換する。
// authorization_codeグラントはクライアントシークレットを使用しない
// （コードはverifierに束縛されている）。
func (p *SSOProvider) ExchangeCode(ctx context.Context, code, verifier string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"code_verifier": {verifier},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return p.doTokenRequest(req)
}

// Refresh はrefresh_tokenグラントを実行する。
// クライアント認証はHTTP Basicで行う。
// issuerがグラントを拒否した場合はErrInvalidGrantをラップしたエラーを返す。
func (p *SSOProvider) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	basic := base64.StdEncoding.EncodeToString([]byte(p.config.ClientID + ":" + p.config.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if isInvalidGrant(resp.StatusCode, body) {
			return nil, fmt.Errorf("refresh rejected with status %d: %w", resp.StatusCode, ErrInvalidGrant)
		}
		return nil, fmt.Errorf("refresh failed with status %d", resp.StatusCode)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in refresh response")
	}

	return &tokenResp, nil
}

// doTokenRequest はトークンリクエストを実行しレスポンスをデコードする。
func (p *SSOProvider) doTokenRequest(req *http.Request) (*TokenResponse, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d", resp.StatusCode)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tokenResp, nil
}

// errorResponse はOAuthエラーレスポンスのボディ。
type errorResponse struct {
	Error string `json:"error"`
}

// isInvalidGrant はレスポンスがinvalid_grantエラーかを判定する。
func isInvalidGrant(statusCode int, body []byte) bool {
	if statusCode != http.StatusBadRequest && statusCode != http.StatusUnauthorized {
		return false
	}
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return false
	}
	return errResp.Error == "invalid_grant" || errResp.Error == "invalid_token"
}
