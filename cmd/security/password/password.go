package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Version = 19 // argon2.Version is 0x13 (19)

// Hash hashes a password with the configured scheme and returns the encoded
// hash string. A hashing failure (e.g. no entropy source) is returned as an
// error and must abort registration; an unhashed password is never stored.
func (c Config) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	switch c.Scheme {
	case SchemeArgon2id:
		return c.hashArgon2id(password)
	default:
		return c.hashSHA256(password)
	}
}

// Verify checks whether password matches the given encoded hash.
// Returns (true, nil) for a match, (false, nil) for mismatch, and
// (false, ErrInvalidHash) for malformed/unsupported hashes.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	if strings.HasPrefix(encodedHash, "$argon2id$") {
		return c.verifyArgon2id(encodedHash, password)
	}
	return c.verifySHA256(encodedHash, password)
}

// ---- iterated SHA-256 ----

// hashSHA256 encodes base64(salt || digest) where digest is SHA-256 over
// salt || password, re-digested for the configured iteration count.
func (c Config) hashSHA256(password string) (string, error) {
	saltLen := c.SHA256.SaltLength
	if saltLen <= 0 {
		saltLen = 32
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	digest := digestSHA256(salt, password, c.sha256Iterations())

	combined := make([]byte, 0, len(salt)+len(digest))
	combined = append(combined, salt...)
	combined = append(combined, digest...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

func (c Config) verifySHA256(encodedHash, password string) (bool, error) {
	combined, err := base64.StdEncoding.DecodeString(encodedHash)
	if err != nil {
		return false, ErrInvalidHash
	}

	saltLen := c.SHA256.SaltLength
	if saltLen <= 0 {
		saltLen = 32
	}
	if len(combined) <= saltLen {
		return false, ErrInvalidHash
	}

	salt := combined[:saltLen]
	expected := combined[saltLen:]
	if len(expected) != sha256.Size {
		return false, ErrInvalidHash
	}

	digest := digestSHA256(salt, password, c.sha256Iterations())
	if subtle.ConstantTimeCompare(digest, expected) == 1 {
		return true, nil
	}
	return false, nil
}

func (c Config) sha256Iterations() int {
	if c.SHA256.Iterations <= 0 {
		return 10_000
	}
	return c.SHA256.Iterations
}

func digestSHA256(salt []byte, password string, iterations int) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	digest := h.Sum(nil)

	// Re-digest the running hash; the first pass above counts as iteration one.
	for i := 1; i < iterations; i++ {
		sum := sha256.Sum256(digest)
		digest = sum[:]
	}
	return digest
}

// ---- Argon2id ----

// hashArgon2id returns $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<key_b64>.
func (c Config) hashArgon2id(password string) (string, error) {
	p := c.Argon2id

	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

func (c Config) verifyArgon2id(encodedHash, password string) (bool, error) {
	params, salt, expected, err := decodeArgon2id(encodedHash)
	if err != nil {
		return false, err
	}

	// Anti-DoS boundary: refuse hashes whose parameters exceed our configured
	// maximums by a large margin.
	if !withinReasonableBounds(params, c.Argon2id) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(expected)), // #nosec G115 -- expected length is bounded by decodeArgon2id; safe conversion.
	)

	if subtle.ConstantTimeCompare(key, expected) == 1 {
		return true, nil
	}
	return false, nil
}

func withinReasonableBounds(got Argon2idParams, limits Argon2idParams) bool {
	if got.MemoryKiB > limits.MemoryKiB*2 {
		return false
	}
	if got.Iterations > limits.Iterations*2 {
		return false
	}
	if got.Parallelism > limits.Parallelism*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	if got.KeyLength < 16 || got.KeyLength > 128 {
		return false
	}
	return true
}

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	// Expected: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<key>
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != "v=19" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	params := Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),         // #nosec G115 -- par is validated <= 255 above.
		SaltLength:  uint32(len(salt)),  // #nosec G115 -- bounded by base64 decode.
		KeyLength:   uint32(len(key)),   // #nosec G115 -- bounded by base64 decode.
	}
	return params, salt, key, nil
}
