package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Scheme selects the hashing algorithm used for new hashes.
type Scheme string

const (
	// SchemeSHA256 is iterated salted SHA-256, encoded base64(salt || digest).
	SchemeSHA256 Scheme = "sha256"
	// SchemeArgon2id is Argon2id with a PHC-style encoding.
	SchemeArgon2id Scheme = "argon2id"
)

// SHA256Params controls the iterated SHA-256 scheme.
type SHA256Params struct {
	SaltLength int
	Iterations int
}

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Config is the single configuration surface for this package.
// It is passed by value so callers can keep deterministic test parameters.
type Config struct {
	Scheme   Scheme
	SHA256   SHA256Params
	Argon2id Argon2idParams
}

// DefaultConfig returns the baseline used by the chat server: the SHA-256
// scheme with a 32-byte salt and 10,000 iterations, which matches existing
// credential files on disk.
func DefaultConfig() Config {
	// Clamp Argon2id parallelism to [1..4] so resource usage stays
	// predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Scheme: SchemeSHA256,
		SHA256: SHA256Params{
			SaltLength: 32,
			Iterations: 10_000,
		},
		Argon2id: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - PARLEY_PASSWORD_SCHEME (sha256 | argon2id)
// - PARLEY_SHA256_SALT_LEN
// - PARLEY_SHA256_ITERATIONS
// - PARLEY_ARGON2_MEMORY_KIB
// - PARLEY_ARGON2_ITERATIONS
// - PARLEY_ARGON2_PARALLELISM
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("PARLEY_PASSWORD_SCHEME"); ok {
		switch Scheme(strings.ToLower(strings.TrimSpace(v))) {
		case SchemeSHA256:
			cfg.Scheme = SchemeSHA256
		case SchemeArgon2id:
			cfg.Scheme = SchemeArgon2id
		default:
			return Config{}, fmt.Errorf("PARLEY_PASSWORD_SCHEME: unknown scheme %q", v)
		}
	}

	if v, ok := os.LookupEnv("PARLEY_SHA256_SALT_LEN"); ok {
		n, err := atoiRange(v, 8, 64)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_SHA256_SALT_LEN: %w", err)
		}
		cfg.SHA256.SaltLength = n
	}

	if v, ok := os.LookupEnv("PARLEY_SHA256_ITERATIONS"); ok {
		n, err := atoiRange(v, 1, 1_000_000)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_SHA256_ITERATIONS: %w", err)
		}
		cfg.SHA256.Iterations = n
	}

	if v, ok := os.LookupEnv("PARLEY_ARGON2_MEMORY_KIB"); ok {
		u, err := atou32(v, 8*1024, 1024*1024)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Argon2id.MemoryKiB = u
	}

	if v, ok := os.LookupEnv("PARLEY_ARGON2_ITERATIONS"); ok {
		u, err := atou32(v, 1, 20)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Argon2id.Iterations = u
	}

	if v, ok := os.LookupEnv("PARLEY_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, 64)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_ARGON2_PARALLELISM: %w", err)
		}
		p, err := u32ToU8(u)
		if err != nil {
			return Config{}, fmt.Errorf("PARLEY_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Argon2id.Parallelism = p
	}

	return cfg, nil
}

func atoiRange(s string, minVal, maxVal int) (int, error) {
	s = strings.TrimSpace(s)
	i64, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}

	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	s = strings.TrimSpace(s)
	u64, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}

	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}
