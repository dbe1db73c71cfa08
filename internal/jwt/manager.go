package jwt

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken       = errors.New("missing or malformed Authorization")
	ErrInvalidSigningAlgo = errors.New("unexpected signing method")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims is the canonical token payload: the subject is the participant's
// user ID, plus a display nickname so the gateway does not need a user lookup
// to label connections.
type Claims struct {
	Nickname string `json:"nickname,omitempty"`
	jwtlib.RegisteredClaims
}

var _ jwtlib.Claims = (*Claims)(nil)

// Manager handles token creation and validation.
type Manager struct {
	secret    []byte
	accessTTL time.Duration
}

// NewManager creates a token manager.
func NewManager(secret string, accessTTL time.Duration) *Manager {
	s := strings.TrimSpace(secret)
	if s == "" {
		panic("jwt: empty secret key")
	}
	return &Manager{secret: []byte(s), accessTTL: accessTTL}
}

// IssueToken returns a signed access token for a participant.
func (m *Manager) IssueToken(userID, nickname string) (string, *Claims, error) {
	now := time.Now().UTC()
	claims := &Claims{
		Nickname: nickname,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(m.accessTTL)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
	tkn := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := tkn.SignedString(m.secret)
	return signed, claims, err
}

// ParseAndValidate verifies signature and standard claims.
func (m *Manager) ParseAndValidate(tokenString string) (*Claims, error) {
	parser := jwtlib.NewParser(jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}))

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwtlib.Token) (any, error) {
		if t.Method != jwtlib.SigningMethodHS256 {
			return nil, ErrInvalidSigningAlgo
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SubjectUnverified extracts the subject claim without verifying the
// signature. Clients that hold a token but not the signing secret use this to
// learn their own user ID; the server still validates the token on connect.
func SubjectUnverified(tokenString string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// FromRequest reads the bearer token from the Authorization header, or from
// the "token" query parameter for websocket upgrades where custom headers are
// awkward.
func FromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer "), nil
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return strings.TrimPrefix(t, "Bearer "), nil
	}
	return "", ErrMissingToken
}

// Authenticate combines token extraction and validation for HTTP handlers.
func (m *Manager) Authenticate(r *http.Request) (*Claims, error) {
	raw, err := FromRequest(r)
	if err != nil {
		return nil, err
	}
	return m.ParseAndValidate(raw)
}
