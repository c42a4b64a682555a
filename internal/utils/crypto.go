// internal/utils/crypto.go
package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix 标记已加密的值，未加密的旧值原样读取
const sealedPrefix = "enc:v1:"

// SecretBox 用于在存储中加密 API Key
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox 由口令派生 AES-256 密钥；口令为空时返回 nil，表示不加密
func NewSecretBox(passphrase string) (*SecretBox, error) {
	if passphrase == "" {
		return nil, nil
	}
	key := sha256.Sum256([]byte(passphrase))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SecretBox{aead: gcm}, nil
}

// IsSealed 是否为加密后的值
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// Seal 加密；nil 接收者或空值原样返回
func (b *SecretBox) Seal(plaintext string) (string, error) {
	if b == nil || plaintext == "" || IsSealed(plaintext) {
		return plaintext, nil
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open 解密；未加密的值原样返回
func (b *SecretBox) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if b == nil {
		return "", fmt.Errorf("密钥已加密但未配置解密口令")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", err
	}

	nonceSize := b.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
