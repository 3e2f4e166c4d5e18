package guardlib

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	csrfNonceLength     = 16
	csrfSignatureLength = sha256.Size
	csrfTokenParts      = 4
)

// CSRFToken is a decoded anti-forgery token. It is bound to a session and
// signed with a key derived from the master secret.
type CSRFToken struct {
	SessionID string
	IssuedAt  time.Time
	Nonce     []byte
	Signature []byte
}

// String returns a wire form of the token.
func (c CSRFToken) String() string {
	return strings.Join([]string{
		base64.RawURLEncoding.EncodeToString([]byte(c.SessionID)),
		strconv.FormatInt(c.IssuedAt.UnixMilli(), 10),
		base64.RawURLEncoding.EncodeToString(c.Nonce),
		base64.RawURLEncoding.EncodeToString(c.Signature),
	}, ".")
}

// ParseCSRFToken decodes a wire form. It does not verify anything.
func ParseCSRFToken(value string) (CSRFToken, error) {
	parts := strings.Split(value, ".")
	if len(parts) != csrfTokenParts {
		return CSRFToken{}, fmt.Errorf("incorrect number of token parts %d", len(parts))
	}

	sessionID, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return CSRFToken{}, fmt.Errorf("incorrect session: %w", err)
	}

	millis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return CSRFToken{}, fmt.Errorf("incorrect timestamp: %w", err)
	}

	nonce, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(nonce) != csrfNonceLength {
		return CSRFToken{}, errors.New("incorrect nonce")
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil || len(signature) != csrfSignatureLength {
		return CSRFToken{}, errors.New("incorrect signature")
	}

	return CSRFToken{
		SessionID: string(sessionID),
		IssuedAt:  time.UnixMilli(millis),
		Nonce:     nonce,
		Signature: signature,
	}, nil
}

// TokenServiceOpts is a set of TokenService settings.
type TokenServiceOpts struct {
	// Secret is a master secret. Signing key is derived from it.
	//
	// This is a mandatory setting.
	Secret []byte

	// Store keeps a current token of each session.
	//
	// This is a mandatory setting.
	Store TokenStore

	// MaxAge is a token lifetime. Default is DefaultCSRFMaxAge.
	MaxAge time.Duration

	// SingleUse rejects a token presented for the second time. It requires
	// ReplayCache.
	SingleUse   bool
	ReplayCache AntiReplayCache

	Now    func() time.Time
	Random io.Reader
}

// TokenService issues and verifies anti-forgery tokens.
//
// A token is reusable until it expires unless SingleUse is set. This is a
// tradeoff: clients do not need to refresh a token after each mutation but
// a leaked token is valid for the whole MaxAge.
type TokenService struct {
	key         []byte
	store       TokenStore
	maxAge      time.Duration
	singleUse   bool
	replayCache AntiReplayCache
	now         func() time.Time
	random      io.Reader
}

// MaxAge returns a lifetime of issued tokens.
func (t *TokenService) MaxAge() time.Duration {
	return t.maxAge
}

// Issue generates a new token for a session and makes it current.
func (t *TokenService) Issue(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrNoSession
	}

	token := CSRFToken{
		SessionID: sessionID,
		IssuedAt:  t.now().Truncate(time.Millisecond),
		Nonce:     make([]byte, csrfNonceLength),
	}

	if _, err := io.ReadFull(t.random, token.Nonce); err != nil {
		return "", fmt.Errorf("cannot generate nonce: %w", err)
	}

	token.Signature = t.sign(token)
	value := token.String()

	if err := t.store.Put(ctx, sessionID, value, t.maxAge); err != nil {
		return "", fmt.Errorf("cannot store a token: %w", err)
	}

	return value, nil
}

// Current returns a live token of the session, issuing a new one if there
// is none.
func (t *TokenService) Current(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrNoSession
	}

	value, err := t.store.Get(ctx, sessionID)

	switch {
	case err == nil && t.Verify(value, sessionID):
		return value, nil
	case err == nil, errors.Is(err, ErrTokenNotFound):
		return t.Issue(ctx, sessionID)
	}

	return "", fmt.Errorf("cannot get a token: %w", err)
}

// Verify checks that the token belongs to a session, is signed by us and
// is not expired. All checks are evaluated so timing does not depend on
// which of them fails.
func (t *TokenService) Verify(value, sessionID string) bool {
	token, err := ParseCSRFToken(value)
	if err != nil {
		return false
	}

	sessionOK := subtle.ConstantTimeCompare([]byte(token.SessionID), []byte(sessionID)) == 1
	signatureOK := hmac.Equal(token.Signature, t.sign(token))
	age := t.now().Sub(token.IssuedAt)
	fresh := age < t.maxAge

	return sessionOK && signatureOK && fresh
}

// Check validates a token presented with a state-changing request.
// Everything but ErrNoSession is wrapped into ErrForgery. In single-use
// mode an accepted token is consumed and the session gets a new current
// token.
func (t *TokenService) Check(ctx context.Context, value, sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}

	if value == "" {
		return fmt.Errorf("%w: token is missing", ErrForgery)
	}

	stored, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrForgery, err)
	}

	matches := subtle.ConstantTimeCompare([]byte(stored), []byte(value)) == 1

	if !t.Verify(value, sessionID) || !matches {
		return fmt.Errorf("%w: token is invalid", ErrForgery)
	}

	if !t.singleUse {
		return nil
	}

	if t.replayCache.SeenBefore([]byte(value)) {
		return fmt.Errorf("%w: %w", ErrForgery, ErrTokenReplayed)
	}

	// a consumed token must not stay current
	if _, err := t.Issue(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: cannot rotate a token: %w", ErrForgery, err)
	}

	return nil
}

func (t *TokenService) sign(token CSRFToken) []byte {
	buf := make([]byte, 4+len(token.SessionID)+8+len(token.Nonce)) //nolint: gomnd

	binary.BigEndian.PutUint32(buf, uint32(len(token.SessionID)))
	copy(buf[4:], token.SessionID)
	binary.BigEndian.PutUint64(buf[4+len(token.SessionID):], uint64(token.IssuedAt.UnixMilli()))
	copy(buf[12+len(token.SessionID):], token.Nonce)

	mac := hmac.New(sha256.New, t.key)
	mac.Write(buf)

	return mac.Sum(nil)
}

// NewTokenService builds a service.
func NewTokenService(opts TokenServiceOpts) (*TokenService, error) {
	if opts.Store == nil {
		return nil, ErrTokenStoreIsNotDefined
	}

	if opts.SingleUse && opts.ReplayCache == nil {
		return nil, ErrAntiReplayCacheIsNotDefined
	}

	key, err := deriveKey(opts.Secret, keyPurposeCSRF)
	if err != nil {
		return nil, err
	}

	svc := &TokenService{
		key:         key,
		store:       opts.Store,
		maxAge:      opts.MaxAge,
		singleUse:   opts.SingleUse,
		replayCache: opts.ReplayCache,
		now:         opts.Now,
		random:      opts.Random,
	}

	if svc.maxAge <= 0 {
		svc.maxAge = DefaultCSRFMaxAge
	}

	if svc.now == nil {
		svc.now = time.Now
	}

	if svc.random == nil {
		svc.random = rand.Reader
	}

	return svc, nil
}
