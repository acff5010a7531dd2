// Package auth 签发与校验查看者身份令牌（HS256）
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 令牌声明，UserID 即时间线查看者
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// SignJWT 签发令牌
func SignJWT(secret, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("empty user id")
	}
	now := time.Now()
	cl := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString([]byte(secret))
}

// ParseJWT 校验签名与过期时间，只接受 HS256
func ParseJWT(secret, token string) (*Claims, error) {
	cl := &Claims{}
	_, err := jwt.ParseWithClaims(token, cl, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if cl.UserID == "" {
		return nil, errors.New("token missing uid")
	}
	return cl, nil
}
