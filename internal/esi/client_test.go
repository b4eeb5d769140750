package esi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(baseURL string) *Client {
	return NewClient(ClientConfig{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Rate:    1000,
		Burst:   1000,
	})
}

// TestCharacter はキャラクター情報取得のリクエスト形式とレスポンス解析をテストする。
func TestCharacter(t *testing.T) {
	var gotPath, gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"Pilot One","corporation_id":98000001}`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)

	character, err := c.Character(context.Background(), "access-token", 95465499)
	if err != nil {
		t.Fatalf("Character() returned error: %v", err)
	}

	if gotPath != "/characters/95465499/" {
		t.Errorf("path = %q, want /characters/95465499/", gotPath)
	}
	if gotAuth != "Bearer access-token" {
		t.Errorf("Authorization = %q, want Bearer access-token", gotAuth)
	}
	if character.Name != "Pilot One" {
		t.Errorf("Name = %q, want Pilot One", character.Name)
	}
}

// TestCharacter_EmptyName は空の名前のレスポンスでエラーが返ることをテストする。
func TestCharacter_EmptyName(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)

	if _, err := c.Character(context.Background(), "token", 100); err == nil {
		t.Error("expected error for empty character name, got nil")
	}
}

// TestContracts はコントラクト一覧取得のリクエスト形式とレスポンス解析をテストする。
func TestContracts(t *testing.T) {
	var gotPath, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"contract_id":1,"status":"outstanding","title":"Haul to Jita","date_issued":"2026-08-28T10:00:00Z"},
			{"contract_id":2,"status":"in_progress","title":"","date_issued":"2026-08-27T09:00:00Z","date_accepted":"2026-08-28T08:00:00Z"}
		]`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)

	contracts, err := c.Contracts(context.Background(), "token", 95465499)
	if err != nil {
		t.Fatalf("Contracts() returned error: %v", err)
	}

	if gotPath != "/characters/95465499/contracts/" {
		t.Errorf("path = %q, want /characters/95465499/contracts/", gotPath)
	}
	if gotQuery != "datasource=tranquility" {
		t.Errorf("query = %q, want datasource=tranquility", gotQuery)
	}

	if len(contracts) != 2 {
		t.Fatalf("expected 2 contracts, got %d", len(contracts))
	}
	if contracts[0].ContractID != 1 || contracts[0].Status != "outstanding" || contracts[0].Title != "Haul to Jita" {
		t.Errorf("contracts[0] = %+v, want parsed first contract", contracts[0])
	}
	wantIssued := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	if !contracts[0].DateIssued.Equal(wantIssued) {
		t.Errorf("DateIssued = %v, want %v", contracts[0].DateIssued, wantIssued)
	}
	if contracts[0].DateAccepted != nil {
		t.Error("contracts[0].DateAccepted should be nil")
	}
	if contracts[1].DateAccepted == nil {
		t.Error("contracts[1].DateAccepted should be set")
	}
}

// TestContracts_EmptyList は空の一覧が正常に返ることをテストする。
func TestContracts_EmptyList(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)

	contracts, err := c.Contracts(context.Background(), "token", 100)
	if err != nil {
		t.Fatalf("Contracts() returned error: %v", err)
	}
	if len(contracts) != 0 {
		t.Errorf("expected empty list, got %d contracts", len(contracts))
	}
}

// TestContractDetail は単一コントラクト詳細取得をテストする。
func TestContractDetail(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"contract_id":555,"status":"finished","date_completed":"2026-08-28T12:00:00Z"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)

	detail, err := c.ContractDetail(context.Background(), "token", 95465499, 555)
	if err != nil {
		t.Fatalf("ContractDetail() returned error: %v", err)
	}

	if gotPath != "/characters/95465499/contracts/555/" {
		t.Errorf("path = %q, want /characters/95465499/contracts/555/", gotPath)
	}
	if detail.Status != "finished" {
		t.Errorf("Status = %q, want finished", detail.Status)
	}
	if detail.DateCompleted == nil {
		t.Fatal("DateCompleted should be set")
	}
	want := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	if !detail.DateCompleted.Equal(want) {
		t.Errorf("DateCompleted = %v, want %v", detail.DateCompleted, want)
	}
}

// TestGetJSON_ErrorStatus は非200レスポンスでエラーが返ることをテストする。
func TestGetJSON_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "403 Forbidden", status: http.StatusForbidden},
		{name: "404 Not Found", status: http.StatusNotFound},
		{name: "420 Error Limited", status: 420},
		{name: "500 Internal Server Error", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer ts.Close()

			c := newTestClient(ts.URL)

			if _, err := c.Contracts(context.Background(), "token", 100); err == nil {
				t.Errorf("expected error for status %d, got nil", tt.status)
			}
		})
	}
}

// TestGetJSON_RateLimiterRespectsContext はレートリミッター待機中の
// コンテキストキャンセルでエラーが返ることをテストする。
func TestGetJSON_RateLimiterRespectsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	// バーストを使い切ると次のトークンまで長時間待つ設定
	c := NewClient(ClientConfig{BaseURL: ts.URL, Rate: 0.001, Burst: 1})

	if _, err := c.Contracts(context.Background(), "token", 100); err != nil {
		t.Fatalf("first request should pass the limiter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.Contracts(ctx, "token", 100); err == nil {
		t.Error("expected error when limiter wait is cancelled, got nil")
	}
}
