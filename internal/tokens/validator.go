package tokens

import (
	"time"

	"golang.org/x/text/cases"
)

// Validator decides whether a held token can be used for the next request.
// The zero value is ready to use: no leeway, wall-clock time.
type Validator struct {
	// Leeway treats a token as expired this long before its exp claim, so a
	// token is not sent moments before the server would reject it.
	Leeway time.Duration

	// Now returns the current time. Tests override it.
	Now func() time.Time
}

// NewValidator returns a Validator with the given leeway.
func NewValidator(leeway time.Duration) *Validator {
	return &Validator{Leeway: leeway, Now: time.Now}
}

// IsUsable reports whether token is present, decodable, carries an exp claim
// and is not yet expired (minus leeway). A token is unusable at exactly its
// expiry instant.
func (v *Validator) IsUsable(token string) bool {
	c, err := Decode(token)
	if err != nil || c.Expiry.IsZero() {
		return false
	}

	return v.now().Before(c.Expiry.Add(-v.Leeway))
}

// TenantMatches reports whether the token's tenantId claim equals tenant,
// ignoring case. Either side missing is a mismatch.
func (v *Validator) TenantMatches(token, tenant string) bool {
	if tenant == "" {
		return false
	}

	c, err := Decode(token)
	if err != nil || c.TenantID == "" {
		return false
	}

	fold := cases.Fold()

	return fold.String(c.TenantID) == fold.String(tenant)
}

// Expiry returns the token's exp claim, if it has one.
func (v *Validator) Expiry(token string) (time.Time, bool) {
	c, err := Decode(token)
	if err != nil || c.Expiry.IsZero() {
		return time.Time{}, false
	}

	return c.Expiry, true
}

func (v *Validator) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}

	return v.Now()
}
