package node

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	stcrypto "github.com/seigr-lab/stt/crypto"
)

// seedFilePBKDF2Iterations mirrors NIST's minimum recommendation for
// password-based key derivation.
const seedFilePBKDF2Iterations = 100000

const seedFileSaltSize = 32
const seedFileFormatVersion = 1

// SaveSeedFile encrypts seed at rest under a password-derived AES-256-GCM
// key, for deployments that persist node_seed/shared_seed across restarts
// instead of generating or supplying them fresh on every launch. File
// layout: [version:2][salt:32][nonce:12][ciphertext+tag].
func SaveSeedFile(path string, seed, password []byte) error {
	if len(password) == 0 {
		return fmt.Errorf("password must not be empty")
	}

	salt := make([]byte, seedFileSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	key := pbkdf2.Key(password, salt, seedFilePBKDF2Iterations, 32, sha256.New)
	defer stcrypto.ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("building gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, seed, nil)

	out := make([]byte, 2+len(salt)+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(out[0:2], seedFileFormatVersion)
	copy(out[2:2+len(salt)], salt)
	copy(out[2+len(salt):2+len(salt)+len(nonce)], nonce)
	copy(out[2+len(salt)+len(nonce):], ciphertext)

	return os.WriteFile(path, out, 0o600)
}

// LoadSeedFile decrypts a seed file written by SaveSeedFile.
func LoadSeedFile(path string, password []byte) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	if len(data) < 2+seedFileSaltSize {
		return nil, fmt.Errorf("seed file too short")
	}
	version := binary.BigEndian.Uint16(data[0:2])
	if version != seedFileFormatVersion {
		return nil, fmt.Errorf("unsupported seed file version: %d", version)
	}

	salt := data[2 : 2+seedFileSaltSize]
	rest := data[2+seedFileSaltSize:]

	key := pbkdf2.Key(password, salt, seedFilePBKDF2Iterations, 32, sha256.New)
	defer stcrypto.ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("building gcm: %w", err)
	}
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("seed file too short for nonce")
	}
	nonce := rest[:gcm.NonceSize()]
	ciphertext := rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting seed file: wrong password or corrupted data: %w", err)
	}
	return plaintext, nil
}
