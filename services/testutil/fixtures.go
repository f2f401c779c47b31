package testutil

import (
	"time"

	"github.com/AfshinJalili/apiwallet/libs/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	DemoAccountID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	TraderAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// GenerateJWT signs an access token whose subject is the primary account.
func GenerateJWT(accountID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := auth.Claims{
		Scopes: []string{"wallets"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "apiw-auth",
			Subject:   accountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
