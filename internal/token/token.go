// Package token mints and validates the access and refresh tokens used by
// the HTTP API. Access tokens are short-lived bearer credentials; refresh
// tokens additionally embed the holder's revocation nonce so rotating the
// stored nonce invalidates every outstanding refresh token at once.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("token: invalid token")

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Claims is the JWT payload for both token types.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	Nonce     int16  `json:"nonce,omitempty"`
}

// Pair is an access token with its companion refresh token.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Manager signs and parses tokens with a single HMAC secret.
type Manager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) { m.issuer = issuer }
}

func WithAccessTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.accessTTL = ttl
		}
	}
}

func WithRefreshTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
	}
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(secret []byte, opts ...ManagerOption) (*Manager, error) {
	if len(secret) < 32 {
		return nil, errors.New("token: secret must be at least 32 bytes")
	}
	m := &Manager{
		secret:     secret,
		issuer:     "workhive",
		accessTTL:  15 * time.Minute,
		refreshTTL: 30 * 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue mints an access/refresh pair for the user. The nonce is carried
// only in the refresh token.
func (m *Manager) Issue(userID int64, nonce int16) (Pair, error) {
	now := m.now().UTC()
	accessExp := now.Add(m.accessTTL)
	refreshExp := now.Add(m.refreshTTL)

	access, err := m.sign(userID, typeAccess, 0, now, accessExp)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := m.sign(userID, typeRefresh, nonce, now, refreshExp)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (m *Manager) sign(userID int64, tokenType string, nonce int16, now, exp time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		TokenType: tokenType,
		Nonce:     nonce,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseAccess validates an access token and returns the user id.
func (m *Manager) ParseAccess(raw string) (int64, error) {
	claims, err := m.parse(raw, typeAccess)
	if err != nil {
		return 0, err
	}
	return subjectID(claims)
}

// ParseRefresh validates a refresh token and returns the user id with the
// embedded nonce. The caller checks the nonce against storage.
func (m *Manager) ParseRefresh(raw string) (int64, int16, error) {
	claims, err := m.parse(raw, typeRefresh)
	if err != nil {
		return 0, 0, err
	}
	id, err := subjectID(claims)
	if err != nil {
		return 0, 0, err
	}
	return id, claims.Nonce, nil
}

func (m *Manager) parse(raw, wantType string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("%w: wrong token type", ErrInvalidToken)
	}
	return &claims, nil
}

func subjectID(claims *Claims) (int64, error) {
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}
	return id, nil
}
