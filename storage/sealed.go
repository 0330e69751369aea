package storage

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/saiset-co/sai-offline/types"
)

const (
	sealedMagic  = "\x00xc\x01"
	minSaltBytes = 8
)

// NewSealed encrypts every value with XChaCha20-Poly1305. The storage key
// is bound as associated data, so a value copied under another key fails
// to open.
func NewSealed(impl types.KVStore, config *types.EncryptionConfig) (types.KVStore, error) {
	secret, err := sealingKey(config)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(secret)
	if err != nil {
		return nil, types.Errorf(types.ErrStorageKeyInvalid, "%v", err)
	}

	return &transformStore{
		impl: impl,
		encode: func(key string, value []byte) ([]byte, error) {
			return seal(aead, key, value)
		},
		decode: func(key string, value []byte) ([]byte, error) {
			return unseal(aead, key, value)
		},
	}, nil
}

func sealingKey(config *types.EncryptionConfig) ([]byte, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	if config.Key != "" {
		key, err := hex.DecodeString(config.Key)
		if err != nil || len(key) != chacha20poly1305.KeySize {
			return nil, types.Errorf(types.ErrStorageKeyInvalid, "key must be %d hex encoded bytes", chacha20poly1305.KeySize)
		}
		return key, nil
	}

	passphrase := config.Passphrase
	if config.PassphraseEnv != "" {
		if v := os.Getenv(config.PassphraseEnv); v != "" {
			passphrase = v
		}
	}
	if passphrase == "" {
		return nil, types.Errorf(types.ErrStorageKeyInvalid, "no key or passphrase configured")
	}
	if len(config.Salt) < minSaltBytes {
		return nil, types.Errorf(types.ErrStorageKeyInvalid, "salt must be at least %d bytes", minSaltBytes)
	}

	return argon2.IDKey([]byte(passphrase), []byte(config.Salt), 1, 64*1024, 4, chacha20poly1305.KeySize), nil
}

func seal(aead cipher.AEAD, key string, value []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, types.WrapError(err, "failed to generate nonce")
	}

	out := make([]byte, 0, len(sealedMagic)+len(nonce)+len(value)+aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, value, []byte(key)), nil
}

func unseal(aead cipher.AEAD, key string, value []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, []byte(sealedMagic)) {
		return nil, types.Errorf(types.ErrStorageSealed, "key %s: value is not sealed", key)
	}

	body := value[len(sealedMagic):]
	if len(body) < aead.NonceSize()+aead.Overhead() {
		return nil, types.Errorf(types.ErrStorageSealed, "key %s: value truncated", key)
	}

	nonce, ciphertext := body[:aead.NonceSize()], body[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, types.Errorf(types.ErrStorageSealed, "key %s: %v", key, err)
	}
	return plain, nil
}
