package relay

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HostClaims authorize one user to broadcast in one classroom. The platform
// backend signs these; the relay only verifies them.
type HostClaims struct {
	UserID string `json:"user_id"`
	Room   string `json:"room"`
	jwt.RegisteredClaims
}

// IssueHostToken signs a host token. Exposed for the platform side and for
// local development.
func IssueHostToken(secret, userID, room string, ttl time.Duration) (string, error) {
	claims := HostClaims{
		UserID: userID,
		Room:   room,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyHostToken checks the signature and that the token was issued for the
// given room.
func VerifyHostToken(secret, tokenString, room string) (*HostClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &HostClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*HostClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Room != room {
		return nil, fmt.Errorf("token issued for a different room")
	}
	return claims, nil
}
