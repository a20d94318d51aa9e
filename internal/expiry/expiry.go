package expiry

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// errMalformed marks a token whose payload could not be decoded.
var errMalformed = errors.New("malformed token")

// parser tolerates padded segments, some backends emit them.
var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// Validator checks token expiry against an injectable clock.
type Validator struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Leeway treats tokens expiring within this window as already expired.
	Leeway time.Duration
}

// Default uses the wall clock and no leeway.
var Default = Validator{}

// IsValid reports whether token decodes and expires after now, using the wall clock.
func IsValid(token string) bool {
	return Default.IsValid(token)
}

// IsValid reports whether token decodes and its exp claim lies after now+Leeway.
func (v Validator) IsValid(token string) bool {
	exp, err := decodeExpiry(token)
	if err != nil {
		return false
	}
	return exp.Add(-v.Leeway).After(v.now())
}

// ExpiresAt returns the exp claim of token. ok is false for malformed tokens.
func (v Validator) ExpiresAt(token string) (time.Time, bool) {
	exp, err := decodeExpiry(token)
	if err != nil {
		return time.Time{}, false
	}
	return exp, true
}

func (v Validator) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}

// decodeExpiry extracts exp from the middle segment of token.
func decodeExpiry(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, errMalformed
	}

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// An unknown or missing alg only means we could not verify, which we never do.
		// The claims are already decoded at that point.
		if !errors.Is(err, jwt.ErrTokenUnverifiable) {
			return time.Time{}, errMalformed
		}
	}

	numeric, err := claims.GetExpirationTime()
	if err != nil || numeric == nil {
		return time.Time{}, errMalformed
	}
	return numeric.Time, nil
}
