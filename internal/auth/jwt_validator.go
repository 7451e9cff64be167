package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/toko-pos/internal/common"
)

// TokenValidator checks a parsed identity token and extracts the actor it
// names. Roles narrows the accepted roles; empty accepts every known role.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
	Roles     []string
}

func (v TokenValidator) Actor(tok jwt.Token, alg jwa.SignatureAlgorithm, now time.Time) (common.Actor, error) {
	switch {
	case tok == nil:
		return common.Actor{}, errors.New("auth: token is nil")
	case alg == "":
		return common.Actor{}, errors.New("auth: token missing algorithm")
	case v.Algorithm != "" && alg != v.Algorithm:
		return common.Actor{}, fmt.Errorf("auth: unexpected token algorithm %s", alg)
	}

	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithRequiredClaim(jwt.SubjectKey),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithAcceptableSkew(max(v.ClockSkew, 0)),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return common.Actor{}, err
	}

	actor := common.Actor{
		ID:    stringClaim(tok, jwt.SubjectKey),
		Email: stringClaim(tok, claimEmail),
		Role:  stringClaim(tok, claimRole),
	}
	if actor.ID == "" {
		return common.Actor{}, errors.New("auth: token without subject")
	}
	if !ValidRole(actor.Role) {
		return common.Actor{}, fmt.Errorf("auth: unknown role %q", actor.Role)
	}
	if len(v.Roles) > 0 && !slices.Contains(v.Roles, actor.Role) {
		return common.Actor{}, fmt.Errorf("auth: role %q not accepted", actor.Role)
	}
	return actor, nil
}
