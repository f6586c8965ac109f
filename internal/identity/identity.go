package identity

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lrg1763/BarterswapWeb/internal/store"
)

// AuthError is fatal to the handshake that produced it; nothing beyond
// the connection attempt is affected.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication error: " + e.Reason
}

// CredentialKind distinguishes the two accepted credential variants.
// Modeling them explicitly keeps the raw-id development path from being
// a silent fallback of the token path.
type CredentialKind int

const (
	// RawID is a bare decimal user id. Development convenience; accepted
	// only when explicitly enabled.
	RawID CredentialKind = iota
	// SignedToken is an HMAC-signed JWT whose subject names the user.
	SignedToken
)

type Credential struct {
	Kind CredentialKind
	Raw  string
}

// ParseCredential classifies a handshake credential string.
func ParseCredential(raw string) Credential {
	if raw != "" && isDecimal(raw) {
		return Credential{Kind: RawID, Raw: raw}
	}
	return Credential{Kind: SignedToken, Raw: raw}
}

func isDecimal(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Claims is the accepted token claim set. The platform's session tokens
// carry the user id as a numeric "id" claim, as the subject, or as a
// legacy "userId" claim, checked in that order.
type Claims struct {
	UserID       int64 `json:"id,omitempty"`
	LegacyUserID int64 `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Verifier authenticates connection credentials against the user store
// and the shared token secret. It runs once per connection attempt,
// before any room join.
type Verifier struct {
	users      store.UserStore
	secret     []byte
	allowRawID bool
	logger     *slog.Logger
}

func NewVerifier(logger *slog.Logger, users store.UserStore, secret string, allowRawID bool) *Verifier {
	return &Verifier{
		users:      users,
		secret:     []byte(secret),
		allowRawID: allowRawID,
		logger:     logger.With(slog.String("component", "identity_verifier")),
	}
}

// Verify authenticates the credential and returns the user id it names.
// Every failure is an *AuthError.
func (v *Verifier) Verify(ctx context.Context, raw string) (int64, error) {
	if raw == "" {
		return 0, &AuthError{Reason: "no credential"}
	}

	cred := ParseCredential(raw)
	switch cred.Kind {
	case RawID:
		return v.verifyRawID(ctx, cred.Raw)
	default:
		return v.verifyToken(cred.Raw)
	}
}

func (v *Verifier) verifyRawID(ctx context.Context, raw string) (int64, error) {
	if !v.allowRawID {
		v.logger.Warn("Rejected raw user id credential; allowRawID is disabled")
		return 0, &AuthError{Reason: "invalid credential"}
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &AuthError{Reason: "invalid credential"}
	}

	if _, err := v.users.UserByID(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, &AuthError{Reason: "unknown user"}
		}
		v.logger.Error("User lookup failed during authentication", slog.Any("error", err))
		return 0, &AuthError{Reason: "invalid credential"}
	}
	return id, nil
}

func (v *Verifier) verifyToken(raw string) (int64, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, &AuthError{Reason: "invalid credential"}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return 0, &AuthError{Reason: "invalid credential"}
	}
	if claims.UserID != 0 {
		return claims.UserID, nil
	}
	if claims.Subject != "" {
		id, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err == nil && id > 0 {
			return id, nil
		}
	}
	if claims.LegacyUserID != 0 {
		return claims.LegacyUserID, nil
	}
	return 0, &AuthError{Reason: "invalid credential"}
}
