package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// PKCEPair はPKCEのverifier/challengeペアを表す。
// challenge = base64url(SHA-256(verifier))、パディングなし。
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE は暗号的に安全なPKCEペアを生成する。
func GeneratePKCE() (*PKCEPair, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	verifier := base64.RawURLEncoding.EncodeToString(b)

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	return &PKCEPair{Verifier: verifier, Challenge: challenge}, nil
}

// GenerateState はOAuthのstateパラメータに使用するランダムノンスを生成する。
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
