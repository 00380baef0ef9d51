package httpapi

import (
	"context"
	"testing"
	"time"

	"dhabapos/backend/internal/domain"
	"dhabapos/backend/internal/store/memory"
)

const testSecret = "unit-test-secret-at-least-32-chars!!"

func newTestAuth(t *testing.T) (*AuthManager, *memory.Store) {
	t.Helper()
	repo := memory.NewEmpty()
	ctx := context.Background()

	ownerPwd, err := hashSecret("owner-password-1")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	counterPwd, err := hashSecret("counter-password-1")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	counterPIN, err := hashSecret("4321")
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}

	accounts := []domain.UserAccount{
		{Username: "owner", Password: ownerPwd, Role: domain.RoleSuperadmin, CreatedAt: time.Now().UTC()},
		{Username: "counter", Password: counterPwd, PIN: counterPIN, Role: domain.RoleAdmin, Site: "main", CreatedAt: time.Now().UTC()},
	}
	for _, account := range accounts {
		if err := repo.CreateUser(ctx, account); err != nil {
			t.Fatalf("seed user %s: %v", account.Username, err)
		}
	}

	return NewAuthManager(testSecret, time.Hour, repo), repo
}

func TestLoginSuperadminWithoutPIN(t *testing.T) {
	auth, _ := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "owner", Password: "owner-password-1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Username != "owner" || resp.Role != domain.RoleSuperadmin {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.AccessToken == "" || resp.ExpiresAt == "" {
		t.Fatalf("expected token and expiry, got %+v", resp)
	}
}

func TestLoginAdminRequiresPIN(t *testing.T) {
	auth, _ := newTestAuth(t)

	if _, err := auth.Login(domain.LoginRequest{Username: "counter", Password: "counter-password-1"}); err == nil {
		t.Fatal("expected login without pin to fail")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "counter", Password: "counter-password-1", PIN: "9999"}); err == nil {
		t.Fatal("expected login with wrong pin to fail")
	}

	resp, err := auth.Login(domain.LoginRequest{Username: "counter", Password: "counter-password-1", PIN: "4321"})
	if err != nil {
		t.Fatalf("login with pin failed: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("unexpected role %q", resp.Role)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth, _ := newTestAuth(t)

	cases := []domain.LoginRequest{
		{Username: "nobody", Password: "owner-password-1"},
		{Username: "owner", Password: "wrong"},
		{Username: "owner", Password: ""},
	}
	for _, req := range cases {
		if _, err := auth.Login(req); err == nil {
			t.Fatalf("expected login to fail for %+v", req)
		} else if err.Error() != "invalid credentials" {
			t.Fatalf("error message leaks detail: %q", err.Error())
		}
	}
}

func TestLoginNormalizesUsername(t *testing.T) {
	auth, _ := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "  OWNER ", Password: "owner-password-1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Username != "owner" {
		t.Fatalf("expected normalized username, got %q", resp.Username)
	}
}

func TestLoginStampsLastLogin(t *testing.T) {
	auth, repo := newTestAuth(t)

	if _, err := auth.Login(domain.LoginRequest{Username: "owner", Password: "owner-password-1"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	account, err := repo.GetUserByUsername(context.Background(), "owner")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if account.LastLogin == nil {
		t.Fatal("expected last_login to be stamped")
	}

	auth.Logout("owner")
	account, err = repo.GetUserByUsername(context.Background(), "owner")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if account.LastLogout == nil {
		t.Fatal("expected last_logout to be stamped")
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "owner", Password: "owner-password-1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "owner" || actor.Role != domain.RoleSuperadmin {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenRejectsForgedAndGarbageTokens(t *testing.T) {
	auth, _ := newTestAuth(t)

	if _, err := auth.ParseToken("not-a-token"); err == nil {
		t.Fatal("expected garbage token to be rejected")
	}

	other, _ := newTestAuth(t)
	other.secret = []byte("another-secret-also-32-characters!!!")
	resp, err := other.Login(domain.LoginRequest{Username: "owner", Password: "owner-password-1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
}

func TestBootstrapUpgradesPlainTextPasswords(t *testing.T) {
	repo := memory.NewEmpty()
	ctx := context.Background()
	if err := repo.CreateUser(ctx, domain.UserAccount{
		Username:  "legacy",
		Password:  "plain-text-pw",
		Role:      domain.RoleSuperadmin,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	auth := NewAuthManager(testSecret, time.Hour, repo)

	account, err := repo.GetUserByUsername(ctx, "legacy")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !isPasswordHash(account.Password) {
		t.Fatalf("expected stored password to be upgraded to a hash, got %q", account.Password)
	}

	if _, err := auth.Login(domain.LoginRequest{Username: "legacy", Password: "plain-text-pw"}); err != nil {
		t.Fatalf("login with original password failed after upgrade: %v", err)
	}
}
