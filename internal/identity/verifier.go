// Package identity turns bearer tokens issued by the identity provider into access.Actor
// values. Role flags come from the signed public_metadata claim only.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hackgods/handyman-booking/internal/access"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Metadata is the provider-controlled part of the user profile.
type Metadata struct {
	Admin      bool `json:"admin,omitempty"`
	IsHandyman bool `json:"isHandyman,omitempty"`
}

type Claims struct {
	PublicMetadata Metadata `json:"public_metadata"`
	jwt.RegisteredClaims
}

type Verifier struct {
	keyFunc jwt.Keyfunc
	methods []string
	issuer  string
	leeway  time.Duration
}

// NewVerifier prefers an RS256 public key (PEM) and falls back to an HS256 shared secret.
func NewVerifier(secret, publicKeyPEM, issuer string) (*Verifier, error) {
	if publicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse JWT public key: %w", err)
		}
		return &Verifier{
			keyFunc: func(*jwt.Token) (any, error) { return key, nil },
			methods: []string{jwt.SigningMethodRS256.Alg()},
			issuer:  issuer,
			leeway:  30 * time.Second,
		}, nil
	}
	if secret == "" {
		return nil, errors.New("no JWT verification key configured")
	}
	return NewHMACVerifier([]byte(secret), issuer), nil
}

func NewHMACVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{
		keyFunc: func(*jwt.Token) (any, error) { return secret, nil },
		methods: []string{jwt.SigningMethodHS256.Alg()},
		issuer:  issuer,
		leeway:  30 * time.Second,
	}
}

func (v *Verifier) Verify(raw string) (access.Actor, error) {
	if raw == "" {
		return access.Actor{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var c Claims
	if _, err := jwt.ParseWithClaims(raw, &c, v.keyFunc, opts...); err != nil {
		return access.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return access.Actor{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	return access.Actor{
		ID:         c.Subject,
		IsAdmin:    c.PublicMetadata.Admin,
		IsProvider: c.PublicMetadata.IsHandyman,
	}, nil
}

// Signer mints HS256 tokens for local tooling (seed, simulate) and tests.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewSigner(secret []byte, issuer string, ttl time.Duration) *Signer {
	return &Signer{secret: secret, issuer: issuer, ttl: ttl}
}

func (s *Signer) Sign(actor access.Actor) (string, error) {
	now := time.Now()
	claims := Claims{
		PublicMetadata: Metadata{Admin: actor.IsAdmin, IsHandyman: actor.IsProvider},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
