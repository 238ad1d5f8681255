package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/modelcascade/cascade/internal/config"
)

func TestValidateAPIKey(t *testing.T) {
	secret := "sk-test-1234"
	a := NewAuthenticator([]config.APIKeyConfig{
		{KeyHash: HashAPIKey(secret), Description: "ci"},
	})

	entry, err := a.ValidateAPIKey(secret)
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if entry.Description != "ci" {
		t.Errorf("description = %q, want ci", entry.Description)
	}

	if _, err := a.ValidateAPIKey("sk-wrong"); err == nil {
		t.Error("ValidateAPIKey accepted a wrong key")
	}
	if _, err := a.ValidateAPIKey(""); err == nil {
		t.Error("ValidateAPIKey accepted an empty key")
	}
}

func TestValidateAPIKeyCaseInsensitiveHash(t *testing.T) {
	secret := "sk-test-1234"
	upper := NewAuthenticator([]config.APIKeyConfig{
		{KeyHash: "ABCDEF" + HashAPIKey(secret)[6:]},
	})
	// Wrong hash regardless of case must fail.
	if _, err := upper.ValidateAPIKey(secret); err == nil {
		t.Error("accepted a key whose hash does not match")
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer", "Bearer sk-abc", "sk-abc", false},
		{"lowercase scheme", "bearer sk-abc", "sk-abc", false},
		{"missing", "", "", true},
		{"no scheme", "sk-abc", "", true},
		{"wrong scheme", "Basic sk-abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/evaluate", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractAPIKey(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashAPIKeyStable(t *testing.T) {
	if HashAPIKey("abc") != HashAPIKey("abc") {
		t.Error("hash not deterministic")
	}
	if len(HashAPIKey("abc")) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(HashAPIKey("abc")))
	}
}
