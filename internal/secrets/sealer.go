// Package secrets seals stored values that carry API keys with AES-GCM.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Prefix marks a sealed value. Values without it are read as plaintext, so a
// database written before sealing was enabled stays readable.
const Prefix = "sealed:v1:"

type Envelope struct {
	KeyID      string `json:"key_id"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Sealer encrypts with the current key and decrypts with any known key, so
// keys can be rotated without rewriting old rows first.
type Sealer struct {
	currentKeyID string
	keys         map[string][]byte
}

func NewSealer(currentKeyID string, keys map[string][]byte) (*Sealer, error) {
	if currentKeyID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("keys map is empty")
	}
	if _, ok := keys[currentKeyID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentKeyID)
	}
	cp := make(map[string][]byte, len(keys))
	for id, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		cp[id] = append([]byte(nil), key...)
	}
	return &Sealer{currentKeyID: currentKeyID, keys: cp}, nil
}

// ParseKeys reads "id:base64key" pairs separated by commas.
func ParseKeys(raw string) (map[string][]byte, error) {
	out := map[string][]byte{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, enc, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("key entry %q must be id:base64", part)
		}
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enc))
		if err != nil {
			return nil, fmt.Errorf("decode key %q: %w", id, err)
		}
		out[strings.TrimSpace(id)] = key
	}
	return out, nil
}

func gcm(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}

// Seal returns value encrypted and prefixed. A nil Sealer returns value as is.
func (s *Sealer) Seal(value string) (string, error) {
	if s == nil {
		return value, nil
	}
	aead, err := gcm(s.keys[s.currentKeyID])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	b, err := json.Marshal(Envelope{
		KeyID:      s.currentKeyID,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, []byte(value), nil)),
	})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return Prefix + string(b), nil
}

// Open reverses Seal. Unprefixed values are returned unchanged; a sealed
// value read without a Sealer is an error.
func (s *Sealer) Open(raw string) (string, error) {
	body, sealed := strings.CutPrefix(raw, Prefix)
	if !sealed {
		return raw, nil
	}
	if s == nil {
		return "", fmt.Errorf("value is sealed but no key is configured")
	}
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return "", fmt.Errorf("unmarshal envelope: %w", err)
	}
	key, ok := s.keys[env.KeyID]
	if !ok {
		return "", fmt.Errorf("unknown key id %q", env.KeyID)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, err := gcm(key)
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}
