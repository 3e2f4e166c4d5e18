package guardlib

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// IdentityProviderSessionPrefix marks sessions derived from bearer
	// credentials of the identity provider.
	IdentityProviderSessionPrefix = "idp-"

	sessionIDLength = 16
)

// CookieSessions resolves sessions either from a bearer credential issued
// by the identity provider or from a signed anonymous cookie.
//
// Credentials are never stored: a session identifier is a prefix of
// credential hash.
type CookieSessions struct {
	cookieName string
	secure     bool
	key        []byte
	random     io.Reader
}

// Resolve implements SessionResolver.
func (c *CookieSessions) Resolve(r *http.Request) (string, bool) {
	if credential, ok := bearerCredential(r); ok {
		hashed := sha256.Sum256([]byte(credential))

		return IdentityProviderSessionPrefix + hex.EncodeToString(hashed[:sessionIDLength]), true
	}

	cookie, err := r.Cookie(c.cookieName)
	if err != nil {
		return "", false
	}

	idx := strings.LastIndexByte(cookie.Value, '.')
	if idx <= 0 {
		return "", false
	}

	sessionID := cookie.Value[:idx]

	signature, err := base64.RawURLEncoding.DecodeString(cookie.Value[idx+1:])
	if err != nil || !hmac.Equal(signature, c.sign(sessionID)) {
		return "", false
	}

	return sessionID, true
}

// Establish implements SessionResolver.
func (c *CookieSessions) Establish(w http.ResponseWriter, r *http.Request) (string, error) {
	raw := make([]byte, sessionIDLength)

	if _, err := io.ReadFull(c.random, raw); err != nil {
		return "", fmt.Errorf("cannot generate session id: %w", err)
	}

	sessionID := hex.EncodeToString(raw)
	cookie := &http.Cookie{
		Name:     c.cookieName,
		Value:    sessionID + "." + base64.RawURLEncoding.EncodeToString(c.sign(sessionID)),
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
	r.AddCookie(cookie)

	return sessionID, nil
}

func (c *CookieSessions) sign(sessionID string) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(sessionID))

	return mac.Sum(nil)
}

func bearerCredential(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return "", false
	}

	credential := strings.TrimSpace(header[len("Bearer "):])

	return credential, credential != ""
}

// NewCookieSessions makes a resolver. Cookie signing key is derived from
// the secret. Empty cookie name means DefaultSessionCookie.
func NewCookieSessions(secret []byte, cookieName string, secure bool) (*CookieSessions, error) {
	key, err := deriveKey(secret, keyPurposeSession)
	if err != nil {
		return nil, err
	}

	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}

	return &CookieSessions{
		cookieName: cookieName,
		secure:     secure,
		key:        key,
		random:     rand.Reader,
	}, nil
}

var _ SessionResolver = (*CookieSessions)(nil)
