package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/common"
)

func buildToken(t *testing.T, now time.Time, edit func(*jwt.Builder) *jwt.Builder) jwt.Token {
	t.Helper()
	b := jwt.NewBuilder().
		Issuer("issuer").
		Audience([]string{"aud"}).
		Subject("seller-1").
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(time.Minute)).
		Claim(claimEmail, "seller@toko.test").
		Claim(claimRole, common.RoleUser)
	if edit != nil {
		b = edit(b)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	return tok
}

func TestTokenValidatorActor(t *testing.T) {
	now := time.Now()
	validator := TokenValidator{Issuer: "issuer", Audience: "aud", ClockSkew: time.Second, Algorithm: jwa.HS256}

	actor, err := validator.Actor(buildToken(t, now, nil), jwa.HS256, now)
	require.NoError(t, err)
	require.Equal(t, common.Actor{ID: "seller-1", Email: "seller@toko.test", Role: common.RoleUser}, actor)

	cases := []struct {
		name string
		edit func(*jwt.Builder) *jwt.Builder
		alg  jwa.SignatureAlgorithm
	}{
		{name: "issuer mismatch", alg: jwa.HS256, edit: func(b *jwt.Builder) *jwt.Builder { return b.Issuer("other") }},
		{name: "audience mismatch", alg: jwa.HS256, edit: func(b *jwt.Builder) *jwt.Builder { return b.Audience([]string{"web"}) }},
		{name: "expired", alg: jwa.HS256, edit: func(b *jwt.Builder) *jwt.Builder {
			return b.IssuedAt(now.Add(-2 * time.Hour)).NotBefore(now.Add(-2 * time.Hour)).Expiration(now.Add(-time.Minute))
		}},
		{name: "not yet valid", alg: jwa.HS256, edit: func(b *jwt.Builder) *jwt.Builder {
			return b.NotBefore(now.Add(5 * time.Minute)).Expiration(now.Add(10 * time.Minute))
		}},
		{name: "algorithm mismatch", alg: jwa.RS256},
		{name: "missing algorithm", alg: ""},
		{name: "empty role", alg: jwa.HS256, edit: func(b *jwt.Builder) *jwt.Builder { return b.Claim(claimRole, "") }},
		{name: "unknown role", alg: jwa.HS256, edit: func(b *jwt.Builder) *jwt.Builder { return b.Claim(claimRole, "cashier") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validator.Actor(buildToken(t, now, tc.edit), tc.alg, now)
			require.Error(t, err)
		})
	}

	_, err = validator.Actor(nil, jwa.HS256, now)
	require.Error(t, err)
}

func TestTokenValidatorRoleAllowlist(t *testing.T) {
	now := time.Now()
	drivers := TokenValidator{Algorithm: jwa.HS256, Roles: []string{common.RoleDelivery}}

	_, err := drivers.Actor(buildToken(t, now, nil), jwa.HS256, now)
	require.ErrorContains(t, err, "not accepted")

	actor, err := drivers.Actor(buildToken(t, now, func(b *jwt.Builder) *jwt.Builder {
		return b.Claim(claimRole, common.RoleDelivery)
	}), jwa.HS256, now)
	require.NoError(t, err)
	require.Equal(t, common.RoleDelivery, actor.Role)
}
