package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const sealedPrefix = "enc:v1:"

func Encrypt(plaintext []byte, key string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: read nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func Decrypt(ciphertext []byte, key string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("crypto: ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt: %w", err)
	}

	return plaintext, nil
}

func newGCM(key string) (cipher.AEAD, error) {
	keyHash := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(keyHash[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new GCM: %w", err)
	}
	return gcm, nil
}

// SealCredentials serializa as credenciais de uma integração. Com chave vazia
// o resultado é JSON puro; caso contrário, JSON cifrado com prefixo de versão.
func SealCredentials(creds map[string]string, key string) (string, error) {
	if creds == nil {
		creds = map[string]string{}
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal credentials: %w", err)
	}
	if key == "" {
		return string(raw), nil
	}
	sealed, err := Encrypt(raw, key)
	if err != nil {
		return "", err
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenCredentials aceita tanto JSON puro quanto valores cifrados por SealCredentials,
// permitindo ativar a cifragem sem migrar linhas antigas.
func OpenCredentials(value string, key string) (map[string]string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return map[string]string{}, nil
	}

	raw := []byte(value)
	if strings.HasPrefix(value, sealedPrefix) {
		if key == "" {
			return nil, errors.New("crypto: credenciais cifradas sem chave configurada")
		}
		sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
		if err != nil {
			return nil, fmt.Errorf("crypto: decode credentials: %w", err)
		}
		raw, err = Decrypt(sealed, key)
		if err != nil {
			return nil, err
		}
	}

	creds := map[string]string{}
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("crypto: unmarshal credentials: %w", err)
	}
	return creds, nil
}
