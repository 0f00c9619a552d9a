// Package auth provides the bearer credentials the sync client presents to
// the metadata service and the verifier the service checks them with.
//
// Tokens are HS256 JWTs whose subject is the client (device) id. Clients that
// share the service secret mint their own short-lived tokens with [Signer];
// clients handed a token out of band use [Static].
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token fails verification.
var ErrInvalidToken = errors.New("invalid token")

// TokenSource supplies bearer tokens. Refresh discards any cached token and
// obtains a new one; it is called once after the service rejects a token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Claims are the JWT claims carried by device tokens.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"cid"`
}

// Signer mints device tokens with a shared HMAC secret and caches them until
// shortly before they expire.
type Signer struct {
	clientID string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewSigner returns a Signer for clientID. ttl defaults to 15 minutes.
func NewSigner(clientID string, secret []byte, ttl time.Duration) (*Signer, error) {
	if clientID == "" {
		return nil, errors.New("auth: client id must not be empty")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{clientID: clientID, secret: secret, ttl: ttl, now: time.Now}, nil
}

// Token returns the cached token, minting a new one when it is missing or
// within a minute of expiry.
func (s *Signer) Token(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Add(time.Minute).Before(s.expires) {
		return s.token, nil
	}
	return s.mint()
}

// Refresh mints a new token unconditionally.
func (s *Signer) Refresh(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mint()
}

func (s *Signer) mint() (string, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		ClientID: s.clientID,
	})
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	s.token = signed
	s.expires = expires
	return signed, nil
}

// Static is a fixed token. Refresh cannot produce anything new, so a
// rejected static token stays rejected until the configuration changes.
type Static string

// Token implements [TokenSource].
func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("auth: no token configured")
	}
	return string(s), nil
}

// Refresh implements [TokenSource].
func (s Static) Refresh(ctx context.Context) (string, error) {
	return s.Token(ctx)
}

// Verifier validates device tokens on the service side.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for tokens signed with secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses token and returns the client id it was issued to.
func (v *Verifier) Verify(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.ClientID == "" {
		return "", ErrInvalidToken
	}
	return claims.ClientID, nil
}
