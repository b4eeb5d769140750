// Package model はドメインモデルを定義する。
package model

import "fmt"

// LinkErrorCode はリンクハンドシェイク失敗の原因コード。
type LinkErrorCode string

const (
	// LinkInvalidState はstateノンスが未知または消費済みであることを示す。
	LinkInvalidState LinkErrorCode = "INVALID_STATE"
	// LinkTokenExchangeFailed はトークンエンドポイントがアクセストークンを返さなかったことを示す。
	LinkTokenExchangeFailed LinkErrorCode = "TOKEN_EXCHANGE_FAILED"
	// LinkProfileFetchFailed はキャラクター情報の取得に失敗したことを示す。
	LinkProfileFetchFailed LinkErrorCode = "PROFILE_FETCH_FAILED"
)

// LinkError はリンクハンドシェイクの失敗を表す。
// 1回の試行に対して終端的であり、requesterはbeginLinkからやり直す必要がある。
type LinkError struct {
	Code LinkErrorCode
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *LinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("link failed [%s]: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("link failed [%s]", e.Code)
}

// Unwrap はラップされた原因エラーを返す。
func (e *LinkError) Unwrap() error { return e.Err }

// NewLinkError はLinkErrorを生成する。
func NewLinkError(code LinkErrorCode, err error) *LinkError {
	return &LinkError{Code: code, Err: err}
}

// RefreshErrorCode はトークンリフレッシュ失敗の原因コード。
type RefreshErrorCode string

const (
	// RefreshNetworkFailure はHTTP/ネットワーク障害によるリフレッシュ失敗を示す。
	RefreshNetworkFailure RefreshErrorCode = "NETWORK_FAILURE"
	// RefreshInvalidGrant はリフレッシュトークンが無効であることを示す。
	RefreshInvalidGrant RefreshErrorCode = "INVALID_GRANT"
)

// RefreshError はトークンリフレッシュの失敗を表す。
// セッションは変異されないため、次のサイクルで再試行できる。
type RefreshError struct {
	Code RefreshErrorCode
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *RefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token refresh failed [%s]: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("token refresh failed [%s]", e.Code)
}

// Unwrap はラップされた原因エラーを返す。
func (e *RefreshError) Unwrap() error { return e.Err }

// NewRefreshError はRefreshErrorを生成する。
func NewRefreshError(code RefreshErrorCode, err error) *RefreshError {
	return &RefreshError{Code: code, Err: err}
}

// PollErrorCode はポーリング中の取得失敗の原因コード。
type PollErrorCode string

const (
	// PollFetchFailed はコントラクト一覧の取得失敗を示す。該当セッションはそのサイクルでスキップされる。
	PollFetchFailed PollErrorCode = "FETCH_FAILED"
	// PollDetailFetchFailed は単一コントラクトの詳細取得失敗を示す。
	PollDetailFetchFailed PollErrorCode = "DETAIL_FETCH_FAILED"
)

// PollError はポーリング中のリモート取得失敗を表す。
// プロセスを停止させる失敗は存在せず、ループは後続セッションへ継続する。
type PollError struct {
	Code PollErrorCode
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *PollError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("poll failed [%s]: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("poll failed [%s]", e.Code)
}

// Unwrap はラップされた原因エラーを返す。
func (e *PollError) Unwrap() error { return e.Err }

// NewPollError はPollErrorを生成する。
func NewPollError(code PollErrorCode, err error) *PollError {
	return &PollError{Code: code, Err: err}
}
