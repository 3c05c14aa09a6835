// Package auth implements the access-token codec and the request-context
// binding of authenticated principals.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/common"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verification failures. They are told apart for logging only; all of them
// wrap common.ErrorUnauthorized.
var (
	ErrTokenMalformed   = fmt.Errorf("%w: malformed token", common.ErrorUnauthorized)
	ErrInvalidSignature = fmt.Errorf("%w: invalid token signature", common.ErrorUnauthorized)
	ErrTokenExpired     = fmt.Errorf("%w: token expired", common.ErrorUnauthorized)
)

// Claims is the JWT payload: standard claims plus username and role snapshot.
// The exp claim is carried by Expiry, which shadows RegisteredClaims.ExpiresAt.
type Claims struct {
	jwt.RegisteredClaims
	Expiry   *Expiry  `json:"exp,omitempty"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// GetExpirationTime implements jwt.Claims.
func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.Expiry == nil {
		return nil, nil
	}
	return &jwt.NumericDate{Time: c.Expiry.Time}, nil
}

// Expiry is a NumericDate with a nanosecond fraction. jwt.NumericDate goes
// through float64 and jwt.TimePrecision, which would move exp off now+ttl.
type Expiry struct {
	time.Time
}

func (e Expiry) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%d.%09d", e.Unix(), e.Nanosecond())), nil
}

func (e *Expiry) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("exp claim: %w", err)
	}
	raw := n.String()

	if strings.ContainsAny(raw, "eE") {
		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("exp claim: %w", err)
		}
		sec, frac := math.Modf(f)
		e.Time = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		return nil
	}

	whole, frac, _ := strings.Cut(raw, ".")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return fmt.Errorf("exp claim: %w", err)
	}
	var nsec int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		nsec, err = strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil {
			return fmt.Errorf("exp claim: %w", err)
		}
	}
	e.Time = time.Unix(sec, nsec).UTC()
	return nil
}

// Codec signs and verifies HS256 access tokens. It holds no mutable state
// and never reads the wall clock; callers pass "now" explicitly.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewCodec builds a Codec. The secret is copied.
func NewCodec(secret []byte, issuer string, ttl time.Duration) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token codec: empty signing secret")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token codec: non-positive access token ttl %s", ttl)
	}
	return &Codec{secret: slices.Clone(secret), issuer: issuer, ttl: ttl}, nil
}

// TTL returns the access token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs an access token for p carrying roles as of now. The token stays
// valid for t in [now, now+ttl). iat keeps the usual one-second precision.
func (c *Codec) Issue(p models.Principal, roles []string, now time.Time) (models.AccessToken, error) {
	if p.ID == "" {
		return models.AccessToken{}, errors.New("token codec: principal without id")
	}

	iat := jwt.NewNumericDate(now)
	exp := now.Add(c.ttl).Round(0)
	snapshot := slices.Clone(roles)
	if snapshot == nil {
		snapshot = []string{}
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    c.issuer,
			IssuedAt: iat,
			ID:       uuid.NewString(),
		},
		Expiry:   &Expiry{Time: exp},
		Username: p.UserName,
		Roles:    snapshot,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return models.AccessToken{}, fmt.Errorf("signing access token: %w", err)
	}

	return models.AccessToken{
		Token:     signed,
		SubjectID: p.ID,
		UserName:  p.UserName,
		Roles:     snapshot,
		IssuedAt:  iat.Time,
		ExpiresAt: exp,
	}, nil
}

// Verify checks signature, issuer and expiry (exp must be after now) and
// returns the principal embedded in the token.
func (c *Codec) Verify(tokenString string, now time.Time) (models.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return models.Principal{}, classify(err)
	}
	if !token.Valid {
		return models.Principal{}, ErrTokenMalformed
	}
	if claims.Subject == "" || claims.Username == "" {
		return models.Principal{}, fmt.Errorf("%w: missing subject or username", ErrTokenMalformed)
	}

	return models.Principal{
		ID:       claims.Subject,
		UserName: claims.Username,
		Roles:    claims.Roles,
		IsActive: true,
	}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
