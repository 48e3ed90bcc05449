package credential

import (
	"errors"
	"time"

	"webphone-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer mints the short-lived session credentials the calling client hands
// to its provider session and to the realtime channel. These are signed with
// a key distinct from the API auth secret so a leaked session credential
// cannot be replayed against the REST API.
type Issuer struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type sessionClaims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
}

const sessionScope = "calling"

var ErrInvalidCredential = errors.New("credential: invalid session credential")

func NewIssuer(cfg config.ProviderConfig) (*Issuer, error) {
	if cfg.CredentialSigningKey == "" {
		return nil, errors.New("credential: signing key is required")
	}
	ttl := cfg.CredentialTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{
		key:   []byte(cfg.CredentialSigningKey),
		ttl:   ttl,
		clock: time.Now,
	}, nil
}

// Issue mints a credential for userID.
func (i *Issuer) Issue(userID string) (Credential, error) {
	if userID == "" {
		return Credential{}, errors.New("credential: user_id required")
	}

	now := i.clock().UTC()
	expires := now.Add(i.ttl)

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		UserID: userID,
		Scope:  sessionScope,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err := t.SignedString(i.key)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: token, ExpiresAt: expires}, nil
}

// Validate checks a session credential and returns its owning user id.
// Used by the realtime channel handshake.
func (i *Issuer) Validate(token string) (string, error) {
	var claims sessionClaims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return i.clock().UTC() }),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	}); err != nil {
		return "", ErrInvalidCredential
	}
	if claims.UserID == "" || claims.Scope != sessionScope {
		return "", ErrInvalidCredential
	}
	return claims.UserID, nil
}
