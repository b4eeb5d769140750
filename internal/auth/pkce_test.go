package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

// TestGeneratePKCE はPKCEペアの形式をテストする。
func TestGeneratePKCE(t *testing.T) {
	pair, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE() returned error: %v", err)
	}

	// verifierは32バイトのbase64url（パディングなし）= 43文字
	if len(pair.Verifier) != 43 {
		t.Errorf("verifier length = %d, want 43", len(pair.Verifier))
	}
	if _, err := base64.RawURLEncoding.DecodeString(pair.Verifier); err != nil {
		t.Errorf("verifier is not valid base64url: %v", err)
	}

	// challenge = base64url(SHA-256(verifier))
	sum := sha256.Sum256([]byte(pair.Verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if pair.Challenge != want {
		t.Errorf("challenge = %q, want %q", pair.Challenge, want)
	}
}

// TestGeneratePKCE_Unique は生成のたびに異なるペアが返ることをテストする。
func TestGeneratePKCE_Unique(t *testing.T) {
	a, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE() returned error: %v", err)
	}
	b, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE() returned error: %v", err)
	}
	if a.Verifier == b.Verifier {
		t.Error("two generated verifiers should not be equal")
	}
}

// TestGenerateState はstateノンスの形式をテストする。
func TestGenerateState(t *testing.T) {
	state, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() returned error: %v", err)
	}

	// 16バイトのhexエンコード = 32文字
	if len(state) != 32 {
		t.Errorf("state length = %d, want 32", len(state))
	}
	if _, err := hex.DecodeString(state); err != nil {
		t.Errorf("state is not valid hex: %v", err)
	}
}

// TestGenerateState_Unique は生成のたびに異なるノンスが返ることをテストする。
func TestGenerateState_Unique(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() returned error: %v", err)
	}
	b, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() returned error: %v", err)
	}
	if a == b {
		t.Error("two generated states should not be equal")
	}
}
