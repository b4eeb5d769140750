package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

// TestCharacterIDFromToken はsubクレームからのキャラクターID抽出をテストする。
func TestCharacterIDFromToken(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"sub":  "CHARACTER:EVE:95465499",
		"name": "Pilot One",
	})

	id, err := CharacterIDFromToken(token)
	if err != nil {
		t.Fatalf("CharacterIDFromToken() returned error: %v", err)
	}
	if id != 95465499 {
		t.Errorf("character ID = %d, want 95465499", id)
	}
}

// TestCharacterIDFromToken_Invalid は不正なトークンやクレームで
// エラーが返ることをテストする。
func TestCharacterIDFromToken_Invalid(t *testing.T) {
	t.Run("JWTとして解析できない文字列", func(t *testing.T) {
		if _, err := CharacterIDFromToken("not-a-jwt"); err == nil {
			t.Error("expected error for malformed token, got nil")
		}
	})

	malformedSubs := []string{
		"CHARACTER:EVE",           // パーツ不足
		"CHARACTER:EVE:12:34",     // パーツ過多
		"CHARACTER:EVE:not-a-num", // 数値でないID
		"",                        // 空
	}
	for _, sub := range malformedSubs {
		t.Run("sub="+sub, func(t *testing.T) {
			token := signedToken(t, jwt.MapClaims{"sub": sub})
			if _, err := CharacterIDFromToken(token); err == nil {
				t.Errorf("expected error for sub claim %q, got nil", sub)
			}
		})
	}
}
