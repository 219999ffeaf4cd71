// Package auth issues and parses the signed session tokens returned to
// clients after a successful sign-in.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/studykeeper/internal/common"
)

// Claims carries the registered claims plus the authenticated account and
// its study scope.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string
	StudyID   string
}

// GenerateToken mints an HS256-signed session token for the account.
func GenerateToken(studyID, accountID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		AccountID: accountID,
		StudyID:   studyID,
	})

	return token.SignedString(secretKey)
}

// ParseToken validates the token signature and expiry and returns its
// claims. Expired tokens yield ErrTokenExpired, anything else invalid
// yields ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}
	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
