// Package auth resolves a bearer token to a user id. Issuing tokens is
// an external collaborator's job; the core only validates.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type Authenticator interface {
	UserIDFromToken(tokenString string) (string, error)
}

type JWTAuthenticator struct {
	secret []byte
}

func NewJWT(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret}
}

func (a *JWTAuthenticator) UserIDFromToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	userID, ok := (*claims)["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("invalid user ID in token")
	}
	return userID, nil
}
