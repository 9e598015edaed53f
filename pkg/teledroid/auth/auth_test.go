package auth

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/raedthawaba/teledroid/pkg/teledroid/config"
	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testIssuer(t *testing.T) (*TokenIssuer, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewTokenIssuer(st, testLogger()), st
}

func TestAuthorizerOpenByDefault(t *testing.T) {
	a := NewAuthorizer(config.AccessConfig{}, testLogger())
	if !a.IsAuthorized("anyone") {
		t.Error("empty whitelist must allow everyone")
	}
}

func TestAuthorizerWhitelist(t *testing.T) {
	a := NewAuthorizer(config.AccessConfig{AllowedUsers: []string{"100", " 200 "}}, testLogger())

	if !a.IsAuthorized("100") || !a.IsAuthorized("200") {
		t.Error("listed users must be allowed")
	}
	if a.IsAuthorized("300") {
		t.Error("unlisted user must be denied")
	}

	a.Grant("300")
	if !a.IsAuthorized("300") {
		t.Error("granted user must be allowed")
	}
	a.Revoke("100")
	if a.IsAuthorized("100") {
		t.Error("revoked user must be denied")
	}
}

func TestOTPRoundTrip(t *testing.T) {
	ti, st := testIssuer(t)
	u, err := st.UpsertUser("1", "", "", "")
	if err != nil {
		t.Fatal(err)
	}

	code, err := ti.IssueOTP(u.ID, "dev-9")
	if err != nil {
		t.Fatalf("IssueOTP: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}

	token, userID, err := ti.RedeemOTP("dev-9", code)
	if err != nil {
		t.Fatalf("RedeemOTP: %v", err)
	}
	if userID != u.ID {
		t.Errorf("expected user %d, got %d", u.ID, userID)
	}
	if token == "" {
		t.Fatal("expected a token")
	}

	// Single use.
	if _, _, err := ti.RedeemOTP("dev-9", code); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected second redemption to fail, got %v", err)
	}

	// The minted token verifies; junk does not.
	gotUser, err := ti.VerifyToken("dev-9", token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if gotUser != u.ID {
		t.Errorf("expected user %d, got %d", u.ID, gotUser)
	}
	if _, err := ti.VerifyToken("dev-9", "forged"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected forged token rejected, got %v", err)
	}
	if _, err := ti.VerifyToken("other-device", token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected token bound to device, got %v", err)
	}
}

func TestRedeemUnknownOTP(t *testing.T) {
	ti, _ := testIssuer(t)
	if _, _, err := ti.RedeemOTP("dev-x", "000000"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestReissueInvalidatesOldOTP(t *testing.T) {
	ti, st := testIssuer(t)
	u, _ := st.UpsertUser("2", "", "", "")

	first, err := ti.IssueOTP(u.ID, "dev-z")
	if err != nil {
		t.Fatal(err)
	}
	second, err := ti.IssueOTP(u.ID, "dev-z")
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		if _, _, err := ti.RedeemOTP("dev-z", first); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected superseded code rejected, got %v", err)
		}
	}
	if _, _, err := ti.RedeemOTP("dev-z", second); err != nil {
		t.Errorf("expected fresh code to redeem, got %v", err)
	}
}

func TestHashTokenSalted(t *testing.T) {
	h1, err := hashToken("same-token")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := hashToken("same-token")
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("expected per-token salts to differ")
	}

	ok, err := verifyHash("same-token", h1)
	if err != nil || !ok {
		t.Errorf("expected hash to verify, ok=%v err=%v", ok, err)
	}
	ok, _ = verifyHash("different", h1)
	if ok {
		t.Error("expected wrong token to fail verification")
	}
}
