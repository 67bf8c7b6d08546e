package schedapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/tonimelisma/qmsched/internal/tokens"
)

// DefaultTokenTTL is how long issued access tokens live.
const DefaultTokenTTL = time.Minute

// ErrInvalidToken is returned by Verify for tokens that fail signature or
// time validation.
var ErrInvalidToken = errors.New("schedapi: invalid token")

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer creates an issuer signing with key. ttl <= 0 means DefaultTokenTTL.
func NewIssuer(key []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &Issuer{key: key, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for sch scoped to tenant. Each granted
// permission becomes one value of the permission claim.
func (i *Issuer) Issue(tenant string, sch *Scheduler) (string, error) {
	now := i.now()

	tok, err := jwt.NewBuilder().
		Subject(sch.UserID).
		IssuedAt(now).
		Expiration(now.Add(i.ttl)).
		Claim(tokens.ClaimName, sch.Name).
		Claim(tokens.ClaimTenantID, tenant).
		Claim(tokens.ClaimPermission, sch.Permissions).
		Build()
	if err != nil {
		return "", fmt.Errorf("schedapi: building token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, i.key))
	if err != nil {
		return "", fmt.Errorf("schedapi: signing token: %w", err)
	}

	return string(signed), nil
}

// Verify checks the signature and the exp claim of raw.
func (i *Issuer) Verify(raw string) error {
	_, err := jwt.ParseString(raw,
		jwt.WithKey(jwa.HS256, i.key),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(i.now)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return nil
}
