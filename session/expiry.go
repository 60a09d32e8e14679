package session

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/mailsentry-console/internal/errors"
)

// DecodeExpiry reads the exp claim embedded in a credential without verifying its signature.
// No network call is made; the signature is the backend's concern.
func DecodeExpiry(rawToken string) (time.Time, error) {
	token, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("token missing exp claim")
	}
	return exp.Time, nil
}
