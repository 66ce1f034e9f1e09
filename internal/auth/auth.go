// Package auth validates Auth.js session cookies and turns them into an
// Identity. The cookie is a JWE encrypted with a key derived from the shared
// secret; its payload is re-signed and validated as a JWT.
package auth

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/crypto/hkdf"
)

const DefaultCookieName = "authjs.session-token"

type Authenticator interface {
	Authenticate(r *http.Request) (types.Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (types.Identity, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (types.Identity, error) {
	return f(r)
}

type CookieAuthenticator struct {
	secret     []byte
	key        []byte
	cookieName string
	logger     *log.Logger
}

func NewCookieAuthenticator(secret, cookieName string) (*CookieAuthenticator, error) {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	key, err := GenerateEncryptionKey(secret, cookieName)
	if err != nil {
		return nil, err
	}
	return &CookieAuthenticator{
		secret:     []byte(secret),
		key:        key,
		cookieName: cookieName,
		logger:     log.WithPrefix("auth"),
	}, nil
}

// GenerateEncryptionKey derives the 64-byte A256CBC-HS512 key Auth.js uses,
// salted with the cookie name.
func GenerateEncryptionKey(secret, salt string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New(errors.ErrInternalServer, "AUTH_SECRET not set")
	}
	info := fmt.Sprintf("Auth.js Generated Encryption Key (%s)", salt)

	// HKDF with SHA-256
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(salt), []byte(info))

	key := make([]byte, 64)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}
	return key, nil
}

// JweToJwt decrypts the session cookie and signs its claims as an HS256 JWT.
func (a *CookieAuthenticator) JweToJwt(encryptedToken string) ([]byte, error) {
	decrypted, err := jwe.Decrypt([]byte(encryptedToken), jwe.WithKey(jwa.DIRECT(), a.key))
	if err != nil {
		return nil, invalidToken("failed to decrypt JWE", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(decrypted, &payload); err != nil {
		return nil, invalidToken("failed to unmarshal decrypted payload", err)
	}

	token := jwt.New()
	for k, v := range payload {
		if err := token.Set(k, v); err != nil {
			return nil, invalidToken("invalid claim "+k, err)
		}
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), a.secret))
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign JWT")
	}
	return signed, nil
}

// Authenticate reads the session cookie. Every failure is an
// ErrUnauthorized.
func (a *CookieAuthenticator) Authenticate(r *http.Request) (types.Identity, error) {
	cookie, err := r.Cookie(a.cookieName)
	if err != nil {
		return types.Identity{}, errors.New(http.StatusUnauthorized, "missing session token cookie")
	}

	signed, err := a.JweToJwt(cookie.Value)
	if err != nil {
		a.logger.Debug("failed to convert JWE to JWT", "err", err)
		return types.Identity{}, unauthorized(err)
	}

	token, err := jwt.Parse(signed, jwt.WithKey(jwa.HS256(), a.secret), jwt.WithValidate(true))
	if err != nil {
		return types.Identity{}, unauthorized(err)
	}
	if exp, ok := token.Expiration(); ok && exp.Before(time.Now()) {
		return types.Identity{}, errors.New(http.StatusUnauthorized, "session token expired")
	}

	return identityFrom(token)
}

func identityFrom(token jwt.Token) (types.Identity, error) {
	var id types.Identity
	if sub, ok := token.Subject(); ok {
		id.AccountID = sub
	}
	if id.AccountID == "" {
		// Auth.js puts the user id in "id" when no subject is configured.
		_ = token.Get("id", &id.AccountID)
	}
	if id.AccountID == "" {
		return types.Identity{}, errors.New(http.StatusUnauthorized, "session token has no subject")
	}

	_ = token.Get("email", &id.Email)

	var role string
	_ = token.Get("role", &role)
	switch types.Role(role) {
	case types.RoleAdmin, types.RoleSeller:
		id.Role = types.Role(role)
	default:
		id.Role = types.RoleBuyer
	}
	return id, nil
}

func invalidToken(message string, err error) error {
	return &errors.AppError{Code: errors.ErrInvalidToken, Kind: errors.KindUnauthorized, Message: message, Err: err}
}

func unauthorized(err error) error {
	return &errors.AppError{Code: http.StatusUnauthorized, Kind: errors.KindUnauthorized, Message: "invalid session token", Err: err}
}
