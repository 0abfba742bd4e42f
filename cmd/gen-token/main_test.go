package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"proflo-api/api"
)

func TestTenantIDs(t *testing.T) {
	if got := tenantIDs(1, "tenant", 1, nil); len(got) != 1 || got[0] != "tenant" {
		t.Fatalf("unexpected single id: %v", got)
	}
	if got := tenantIDs(1, "tenant", 1, []string{"acme"}); got[0] != "acme" {
		t.Fatalf("expected explicit id, got %v", got)
	}
	got := tenantIDs(3, "perf", 5, nil)
	if len(got) != 3 || got[0] != "perf-5" || got[2] != "perf-7" {
		t.Fatalf("unexpected ids: %v", got)
	}
}

func TestGeneratedTokensAreAccepted(t *testing.T) {
	secret := []byte("local-secret")
	signer := tokenSigner{secret: secret, claim: "org", audience: "api://proflo", ttl: time.Hour, now: time.Now}

	tokens, err := signer.generate([]string{"org-1", "org-2"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	auth := api.NewAuth(nil, api.AuthConfig{SharedSecret: secret, TenantClaim: "org", Audience: "api://proflo"})
	for i, want := range []string{"org-1", "org-2"} {
		tenant, err := auth.UserIDFromAuthHeader("Bearer " + tokens[i])
		if err != nil {
			t.Fatalf("token %d rejected: %v", i, err)
		}
		if tenant != want {
			t.Fatalf("token %d: expected %s got %s", i, want, tenant)
		}
	}
}

func TestGenerateRequiresSecret(t *testing.T) {
	if _, err := (tokenSigner{ttl: time.Hour, now: time.Now}).generate([]string{"x"}); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestWriteTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	if err := writeTokens(path, []string{"a", "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got []string
	if err := sonic.Unmarshal(data, &got); err != nil || len(got) != 2 {
		t.Fatalf("unexpected file content %q: %v", data, err)
	}
}
