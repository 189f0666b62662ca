// Package crypto seals provider API keys before they touch the database.
// Values are encrypted with AES-GCM under a named master key; the key id is
// stored alongside the ciphertext so old rows stay readable after rotation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type sealed struct {
	KeyID      string `json:"key_id"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type Keyring struct {
	activeID string
	keys     map[string][]byte
}

func NewKeyring(activeID string, keys map[string][]byte) (*Keyring, error) {
	if activeID == "" {
		return nil, fmt.Errorf("active key id is empty")
	}
	if _, ok := keys[activeID]; !ok {
		return nil, fmt.Errorf("active key id %q not present", activeID)
	}
	cp := make(map[string][]byte, len(keys))
	for id, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		buf := make([]byte, len(key))
		copy(buf, key)
		cp[id] = buf
	}
	return &Keyring{activeID: activeID, keys: cp}, nil
}

// SealString encrypts value under the active key and returns a self-describing
// JSON envelope safe to store as a text column.
func (k *Keyring) SealString(value string) (string, error) {
	aead, err := k.aead(k.activeID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, []byte(value), nil)

	b, err := json.Marshal(sealed{
		KeyID:      k.activeID,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	})
	if err != nil {
		return "", fmt.Errorf("marshal sealed value: %w", err)
	}
	return string(b), nil
}

// OpenString decrypts a value produced by SealString, under whichever key the
// envelope names.
func (k *Keyring) OpenString(raw string) (string, error) {
	var env sealed
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return "", fmt.Errorf("unmarshal sealed value: %w", err)
	}
	aead, err := k.aead(env.KeyID)
	if err != nil {
		return "", err
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(pt), nil
}

// Rewrap decrypts raw under its original key and re-seals it under the active
// one. Used by the vault after a key rotation.
func (k *Keyring) Rewrap(raw string) (string, error) {
	plain, err := k.OpenString(raw)
	if err != nil {
		return "", err
	}
	return k.SealString(plain)
}

func (k *Keyring) aead(id string) (cipher.AEAD, error) {
	key, ok := k.keys[id]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", id)
	}
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
