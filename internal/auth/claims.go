package auth

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// CharacterIDFromToken はアクセストークンのクレームからキャラクターIDを取り出す。
// EVE SSOのsubクレームは "CHARACTER:EVE:<id>" 形式。
//
// 署名検証は行わない。トークンはTLSチャネル経由でissuerから直接受け取った
// 直後にのみ解析されるため、信頼境界はトークンエンドポイントへの接続に置いている。
func CharacterIDFromToken(accessToken string) (int64, error) {
	parser := jwt.NewParser()

	token, _, err := parser.ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return 0, fmt.Errorf("failed to parse access token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return 0, fmt.Errorf("failed to read sub claim: %w", err)
	}

	parts := strings.Split(sub, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("unexpected sub claim format: %q", sub)
	}

	characterID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid character id in sub claim %q: %w", sub, err)
	}

	return characterID, nil
}
