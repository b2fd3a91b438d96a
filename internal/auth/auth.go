// Package auth is the minimal rider-identity stub named in SPEC_FULL §6:
// registration, login, and bearer-token verification are an external
// collaborator's concern per the core specification (§1, out of scope), but
// /tracking, /ruta, and /irregularities need something real to sit behind,
// so this package carries just enough to satisfy that boundary.
//
// Adapted from the donor's internal/middleware/auth.go: the same
// Authorization-header parsing and Locals-population shape, generalized
// from a partner/API-key model to a per-rider bearer token.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// RiderContext holds the authenticated rider for the current request.
type RiderContext struct {
	RiderID int64
}

// HashPassword hashes a rider's password with bcrypt, mirroring the donor's
// preference for battle-tested libraries over hand-rolled hashing.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IssueToken returns an opaque bearer token: "<riderID>.<expiryUnix>.<hmac>",
// base64-encoded. No JWT library appears anywhere in the donor's or the
// wider retrieval pack's go.mod, so this follows stdlib crypto/hmac instead
// of reaching for one purely to serve this out-of-core stub.
func IssueToken(riderID int64, secret []byte, ttl time.Duration) string {
	expiry := time.Now().Add(ttl).Unix()
	payload := fmt.Sprintf("%d.%d", riderID, expiry)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	sig := mac.Sum(nil)
	raw := fmt.Sprintf("%s.%s", payload, base64.RawURLEncoding.EncodeToString(sig))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

var errInvalidToken = errors.New("invalid or expired token")

// ParseToken verifies the signature and expiry and returns the rider id.
func ParseToken(token string, secret []byte) (int64, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, errInvalidToken
	}

	parts := strings.SplitN(string(decoded), ".", 3)
	if len(parts) != 3 {
		return 0, errInvalidToken
	}

	riderID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, errInvalidToken
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, errInvalidToken
	}
	if time.Now().Unix() > expiry {
		return 0, errInvalidToken
	}

	payload := fmt.Sprintf("%s.%s", parts[0], parts[1])
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	expectedSig := mac.Sum(nil)

	gotSig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(expectedSig, gotSig) {
		return 0, errInvalidToken
	}

	return riderID, nil
}

// Middleware validates the Authorization: Bearer <token> header and stores
// a *RiderContext in locals, following the donor's AuthMiddleware shape.
func Middleware(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "missing_token",
				"message": "Authorization: Bearer <token> is required",
			})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "invalid_auth_format",
				"message": "Authorization header must be: Bearer <token>",
			})
		}

		riderID, err := ParseToken(strings.TrimSpace(parts[1]), secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "invalid_token",
				"message": "the provided token is invalid or expired",
			})
		}

		c.Locals("rider", &RiderContext{RiderID: riderID})
		return c.Next()
	}
}
