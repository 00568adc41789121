package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the smallest HMAC secret the codec accepts.
const MinSecretLength = 32

var (
	// ErrInvalid is returned for every verification failure. Bad signature,
	// malformed input and expiry are deliberately indistinguishable.
	ErrInvalid = errors.New("jwtx: invalid token")

	ErrWeakSecret = errors.New("jwtx: signing secret too short")
)

// Codec issues and verifies HS256 session tokens with a process-scoped
// secret. It holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// CodecOption customises a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source, used by tests to move past expiry.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a codec keyed by secret. The secret is copied.
func NewCodec(secret []byte, issuer string, opts ...CodecOption) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}

	c := &Codec{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	return c, nil
}

// Issue signs a fresh session token for the given identity.
func (c *Codec) Issue(subjectID, email, role string) (string, error) {
	if subjectID == "" || email == "" {
		return "", errors.New("jwtx: subject and email are required")
	}

	claims := NewSessionClaims(subjectID, email, role, c.issuer, c.now().UTC())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the claims.
func (c *Codec) Verify(tokenStr string) (*Claims, error) {
	token, err := c.parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, ErrInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}

	if err := claims.ValidateIssuer(c.issuer); err != nil {
		return nil, ErrInvalid
	}
	if err := claims.ValidateSubject(); err != nil {
		return nil, ErrInvalid
	}

	return claims, nil
}
