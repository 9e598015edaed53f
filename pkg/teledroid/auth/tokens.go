// Package auth – tokens.go issues and verifies device credentials:
// six-digit single-use linking OTPs and long-lived opaque device
// tokens. Tokens are never stored in the clear; the store keeps an
// Argon2id hash with a per-token salt.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

const (
	// OTPTTL is how long a linking code stays redeemable.
	OTPTTL = 5 * time.Minute

	// DeviceTokenTTL is the validity window of an issued device token.
	DeviceTokenTTL = 30 * 24 * time.Hour

	// Argon2id parameters (OWASP recommended).
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// ErrInvalidToken is returned when a presented credential does not
// verify.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenIssuer mints and verifies device credentials against the store.
type TokenIssuer struct {
	store  *store.Store
	logger *slog.Logger
}

// NewTokenIssuer creates a token issuer over the store.
func NewTokenIssuer(st *store.Store, logger *slog.Logger) *TokenIssuer {
	return &TokenIssuer{
		store:  st,
		logger: logger.With("component", "auth"),
	}
}

// IssueOTP creates a fresh six-digit linking code for a user/device
// pair, invalidating any earlier unconsumed code for the same pair.
func (ti *TokenIssuer) IssueOTP(userID int64, deviceID string) (string, error) {
	code, err := generateOTP()
	if err != nil {
		return "", err
	}
	if _, err := ti.store.CreateOTP(userID, deviceID, code, time.Now().Add(OTPTTL)); err != nil {
		return "", err
	}

	ti.logger.Info("otp issued", "device_id", deviceID)
	return code, nil
}

// RedeemOTP consumes a linking code and mints a device token for the
// pair it bound. Returns the plaintext token exactly once; only its
// hash is stored. Expired, unknown or already-used codes fail with
// ErrInvalidToken.
func (ti *TokenIssuer) RedeemOTP(deviceID, code string) (token string, userID int64, err error) {
	otp, err := ti.store.ConsumeOTP(deviceID, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", 0, ErrInvalidToken
		}
		return "", 0, err
	}

	token, err = ti.issueToken(otp.UserID, deviceID)
	if err != nil {
		return "", 0, err
	}

	ti.logger.Info("otp redeemed, device token issued", "device_id", deviceID)
	return token, otp.UserID, nil
}

// VerifyToken checks a presented device token and returns the owning
// user ID. Comparison is against stored Argon2id hashes.
func (ti *TokenIssuer) VerifyToken(deviceID, token string) (int64, error) {
	rows, err := ti.store.FindDeviceTokens(deviceID)
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		ok, err := verifyHash(token, row.TokenHash)
		if err != nil {
			continue
		}
		if ok {
			return row.UserID, nil
		}
	}
	return 0, ErrInvalidToken
}

// PruneExpired removes expired credentials. Intended to run
// periodically from the scheduler.
func (ti *TokenIssuer) PruneExpired() error {
	n, err := ti.store.DeleteExpiredTokens(time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		ti.logger.Debug("expired tokens pruned", "count", n)
	}
	return nil
}

// issueToken mints a random opaque token and stores its hash.
func (ti *TokenIssuer) issueToken(userID int64, deviceID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	hash, err := hashToken(token)
	if err != nil {
		return "", err
	}
	if _, err := ti.store.CreateDeviceToken(userID, deviceID, hash, time.Now().Add(DeviceTokenTTL)); err != nil {
		return "", err
	}
	return token, nil
}

// generateOTP returns a random six-digit code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generating otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// hashToken derives an Argon2id hash with a fresh salt, encoded as
// "salt$hash" in base64.
func hashToken(token string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(key), nil
}

// verifyHash recomputes the hash under the stored salt and compares in
// constant time.
func verifyHash(token, encoded string) (bool, error) {
	saltPart, hashPart, ok := strings.Cut(encoded, "$")
	if !ok {
		return false, fmt.Errorf("malformed token hash")
	}
	salt, err := base64.RawStdEncoding.DecodeString(saltPart)
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(hashPart)
	if err != nil {
		return false, fmt.Errorf("decoding hash: %w", err)
	}

	got := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
