package tokens

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key-with-enough-bytes")

// fixedNow is a whole-second instant so exp comparisons are exact.
var fixedNow = time.Unix(1_800_000_000, 0)

func signToken(t *testing.T, build func(b *jwt.Builder) *jwt.Builder) string {
	t.Helper()

	tok, err := build(jwt.NewBuilder()).Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, testKey))
	require.NoError(t, err)

	return string(signed)
}

func tokenExpiringAt(t *testing.T, exp time.Time) string {
	t.Helper()

	return signToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Subject("12345").Expiration(exp).Claim(ClaimTenantID, "acme")
	})
}

func newFixedValidator(leeway time.Duration) *Validator {
	return &Validator{Leeway: leeway, Now: func() time.Time { return fixedNow }}
}

func TestIsUsable(t *testing.T) {
	v := newFixedValidator(0)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"expired", tokenExpiringAt(t, fixedNow.Add(-time.Second)), false},
		{"exactly at exp", tokenExpiringAt(t, fixedNow), false},
		{"one second left", tokenExpiringAt(t, fixedNow.Add(time.Second)), true},
		{"sixty seconds left", tokenExpiringAt(t, fixedNow.Add(60*time.Second)), true},
		{"empty", "", false},
		{"garbage", "not-a-jwt", false},
		{"three garbage parts", "aaa.bbb.ccc", false},
		{"no exp claim", signToken(t, func(b *jwt.Builder) *jwt.Builder { return b.Subject("x") }), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IsUsable(tt.token))
		})
	}
}

func TestIsUsable_Leeway(t *testing.T) {
	v := newFixedValidator(10 * time.Second)

	assert.False(t, v.IsUsable(tokenExpiringAt(t, fixedNow.Add(5*time.Second))))
	assert.False(t, v.IsUsable(tokenExpiringAt(t, fixedNow.Add(10*time.Second))))
	assert.True(t, v.IsUsable(tokenExpiringAt(t, fixedNow.Add(60*time.Second))))
}

func TestTenantMatches(t *testing.T) {
	v := newFixedValidator(0)
	tok := tokenExpiringAt(t, fixedNow.Add(time.Minute))

	assert.True(t, v.TenantMatches(tok, "acme"))
	assert.True(t, v.TenantMatches(tok, "ACME"))
	assert.True(t, v.TenantMatches(tok, "Acme"))
	assert.False(t, v.TenantMatches(tok, "globex"))
	assert.False(t, v.TenantMatches(tok, ""))
	assert.False(t, v.TenantMatches("", "acme"))
}

func TestTenantMatches_MissingClaim(t *testing.T) {
	v := newFixedValidator(0)
	tok := signToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Expiration(fixedNow.Add(time.Minute))
	})

	assert.False(t, v.TenantMatches(tok, "acme"))
}

func TestTenantMatches_IgnoresExpiry(t *testing.T) {
	v := newFixedValidator(0)
	expired := tokenExpiringAt(t, fixedNow.Add(-time.Hour))

	assert.True(t, v.TenantMatches(expired, "acme"))
}

func TestExpiry(t *testing.T) {
	v := newFixedValidator(0)
	exp := fixedNow.Add(time.Minute)

	got, ok := v.Expiry(tokenExpiringAt(t, exp))
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = v.Expiry("garbage")
	assert.False(t, ok)
}

func TestDecode_Claims(t *testing.T) {
	tok := signToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Subject("12345").
			Expiration(fixedNow).
			Claim(ClaimTenantID, "myTenant123").
			Claim(ClaimName, "John Doe").
			Claim(ClaimPermission, []string{"schedule:read", "schedule:create"})
	})

	c, err := Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, "12345", c.Subject)
	assert.Equal(t, "John Doe", c.Name)
	assert.Equal(t, "myTenant123", c.TenantID)
	assert.ElementsMatch(t, []string{"schedule:read", "schedule:create"}, c.Permissions)
	assert.True(t, c.HasPermission("schedule:read"))
	assert.False(t, c.HasPermission("schedule:delete"))
}

func TestDecode_SinglePermissionString(t *testing.T) {
	tok := signToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Expiration(fixedNow).Claim(ClaimPermissions, "schedule:read")
	})

	c, err := Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, []string{"schedule:read"}, c.Permissions)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode("")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode("a.b")
	assert.ErrorIs(t, err, ErrMalformed)
}
