package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// KeyEnv names the environment variable holding the credential key.
const KeyEnv = "CSSYNC_ENC_KEY"

func keyBytes() ([]byte, error) {
	k := os.Getenv(KeyEnv)
	if len(k) == 0 {
		return nil, fmt.Errorf("%s not set", KeyEnv)
	}
	b := []byte(k)
	if l := len(b); l != 16 && l != 24 && l != 32 {
		return nil, fmt.Errorf("invalid key length %d", l)
	}
	return b, nil
}

// CheckEnv reports whether a usable key is configured.
func CheckEnv() error {
	_, err := keyBytes()
	return err
}

func newGCM() (cipher.AEAD, error) {
	key, err := keyBytes()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt encrypts plaintext using AES-GCM with key from CSSYNC_ENC_KEY.
func Encrypt(plain []byte) ([]byte, error) {
	gcm, err := newGCM()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// Decrypt decrypts ciphertext using AES-GCM with key from CSSYNC_ENC_KEY.
func Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ct, nil)
}

// SealJSON marshals v and encrypts the result.
func SealJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return Encrypt(b)
}

// OpenJSON decrypts ciphertext and unmarshals it into v. Empty input leaves v
// untouched.
func OpenJSON(ciphertext []byte, v any) error {
	if len(ciphertext) == 0 {
		return nil
	}
	b, err := Decrypt(ciphertext)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
