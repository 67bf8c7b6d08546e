// Package tokens inspects scheduling access tokens on the client side. It
// decodes the JWT payload without checking the signature; the server is the
// authority on validity, the client only needs the expiry and tenant claims
// to decide when to refresh.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claim names issued by the scheduling auth endpoint.
const (
	ClaimTenantID    = "tenantId"
	ClaimName        = "name"
	ClaimPermission  = "permission"
	ClaimPermissions = "permissions"
)

// ErrMalformed is returned by Decode when the token is not a parseable JWT.
var ErrMalformed = errors.New("tokens: malformed token")

// Claims is the subset of the token payload the client cares about.
type Claims struct {
	Subject     string
	Name        string
	TenantID    string
	Permissions []string
	Expiry      time.Time // zero when the token carries no exp claim
}

// Decode parses the token payload. The signature is not verified and no
// time-based validation is applied.
func Decode(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}

	parsed, err := jwt.ParseString(token, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	c := &Claims{
		Subject: parsed.Subject(),
		Expiry:  parsed.Expiration(),
	}

	if v, ok := parsed.Get(ClaimTenantID); ok {
		c.TenantID, _ = v.(string)
	}

	if v, ok := parsed.Get(ClaimName); ok {
		c.Name, _ = v.(string)
	}

	for _, name := range []string{ClaimPermission, ClaimPermissions} {
		if v, ok := parsed.Get(name); ok {
			c.Permissions = append(c.Permissions, stringValues(v)...)
		}
	}

	return c, nil
}

// HasPermission reports whether the claims grant perm.
func (c *Claims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}

	return false
}

// stringValues flattens a claim that may be a single string or an array.
func stringValues(v any) []string {
	switch vv := v.(type) {
	case string:
		return []string{vv}
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}
