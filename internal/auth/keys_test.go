package auth

import "testing"

func TestHashKey(t *testing.T) {
	if got := HashKey("my-secret-key"); len(got) != 64 {
		t.Errorf("HashKey() returned %d chars, want 64", len(got))
	}
	if HashKey("  my-secret-key  ") != HashKey("my-secret-key") {
		t.Error("expected surrounding whitespace to be trimmed")
	}
	if HashKey("") != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Error("unexpected hash of empty string")
	}
}

func TestHashKey_Deterministic(t *testing.T) {
	if HashKey("my-secret-key") != HashKey("my-secret-key") {
		t.Error("expected identical hashes for identical keys")
	}
	if HashKey("key-a") == HashKey("key-b") {
		t.Error("expected different hashes for different keys")
	}
}

func TestVerify(t *testing.T) {
	hash := HashKey("my-secret-key")

	if !Verify("my-secret-key", hash) {
		t.Error("expected matching key to verify")
	}
	if !Verify("my-secret-key", "  "+hash+"  ") {
		t.Error("expected configured hash to be trimmed")
	}
	if Verify("wrong-key", hash) {
		t.Error("expected mismatched key to fail")
	}
	if Verify("", hash) {
		t.Error("expected empty key to fail")
	}
}
