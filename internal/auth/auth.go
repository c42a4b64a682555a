// internal/auth/auth.go
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer 写入令牌的签发者
const Issuer = "hoverlens"

var (
	// ErrSecretRequired 未配置签名口令
	ErrSecretRequired = errors.New("签名口令不能为空")
	// ErrInvalidToken 令牌格式、签名或有效期不正确
	ErrInvalidToken = errors.New("无效的访问令牌")
)

// TokenConfig 令牌签发配置
type TokenConfig struct {
	Secret     []byte
	Expiration time.Duration
}

// NewTokenConfig 由共享口令构造配置，口令为空时返回 nil
func NewTokenConfig(secret string, ttl time.Duration) *TokenConfig {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenConfig{Secret: []byte(secret), Expiration: ttl}
}

// Claims 访问令牌载荷，Subject 标识调用方（如 lens、extension）
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken 为调用方签发 HS256 令牌
func GenerateToken(subject string, config *TokenConfig) (string, error) {
	if config == nil || len(config.Secret) == 0 {
		return "", ErrSecretRequired
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(config.Expiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(config.Secret)
	if err != nil {
		return "", fmt.Errorf("签发令牌失败: %w", err)
	}
	return signed, nil
}

// ParseToken 校验签名、签发者与有效期
func ParseToken(tokenString string, config *TokenConfig) (*Claims, error) {
	if config == nil || len(config.Secret) == 0 {
		return nil, ErrSecretRequired
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return config.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecureKey 生成随机签名口令
func GenerateSecureKey(length int) ([]byte, error) {
	if length <= 0 {
		length = 32
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
