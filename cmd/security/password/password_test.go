package password

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestSHA256HashVerify(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	hash, err := cfg.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	// Stored form is base64(salt || digest): 32-byte salt + 32-byte digest.
	raw, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		t.Fatalf("stored hash is not base64: %v", err)
	}
	if len(raw) != 64 {
		t.Fatalf("len=%d want=64", len(raw))
	}

	ok, err := cfg.Verify(hash, "correct horse battery staple")
	if err != nil || !ok {
		t.Fatalf("Verify(match)=%v,%v", ok, err)
	}

	ok, err = cfg.Verify(hash, "wrong password")
	if err != nil || ok {
		t.Fatalf("Verify(mismatch)=%v,%v", ok, err)
	}
}

func TestSHA256SaltsDiffer(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	h1, err := cfg.Hash("pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := cfg.Hash("pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 == h2 {
		t.Fatal("two hashes of the same password must not collide (random salt)")
	}

	for _, h := range []string{h1, h2} {
		ok, err := cfg.Verify(h, "pw")
		if err != nil || !ok {
			t.Fatalf("Verify=%v,%v", ok, err)
		}
	}
}

func TestEmptyPasswordRejected(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if _, err := cfg.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("err=%v want=%v", err, ErrEmptyPassword)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	cases := []struct {
		name string
		hash string
	}{
		{name: "not base64", hash: "!!not-base64!!"},
		{name: "too short", hash: base64.StdEncoding.EncodeToString([]byte("short"))},
		{name: "argon2 garbage", hash: "$argon2id$v=19$bogus"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ok, err := cfg.Verify(tc.hash, "pw")
			if ok {
				t.Fatal("malformed hash must not verify")
			}
			if !errors.Is(err, ErrInvalidHash) {
				t.Fatalf("err=%v want=%v", err, ErrInvalidHash)
			}
		})
	}
}

func TestArgon2idHashVerify(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Scheme = SchemeArgon2id
	// Keep the test fast; production params come from FromEnv.
	cfg.Argon2id.MemoryKiB = 16 * 1024
	cfg.Argon2id.Iterations = 1

	hash, err := cfg.Hash("hunter2")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Fatalf("unexpected encoding: %q", hash)
	}

	ok, err := cfg.Verify(hash, "hunter2")
	if err != nil || !ok {
		t.Fatalf("Verify(match)=%v,%v", ok, err)
	}

	ok, err = cfg.Verify(hash, "hunter3")
	if err != nil || ok {
		t.Fatalf("Verify(mismatch)=%v,%v", ok, err)
	}
}

func TestArgon2idRejectsOversizedParams(t *testing.T) {
	t.Parallel()

	hasherCfg := DefaultConfig()
	hasherCfg.Scheme = SchemeArgon2id
	hasherCfg.Argon2id.MemoryKiB = 16 * 1024
	hasherCfg.Argon2id.Iterations = 1

	hash, err := hasherCfg.Hash("pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	// A verifier with much smaller limits must refuse the hash instead of
	// burning the memory its parameters demand.
	verifier := hasherCfg
	verifier.Argon2id.MemoryKiB = 1024

	ok, err := verifier.Verify(hash, "pw")
	if ok {
		t.Fatal("oversized hash must not verify")
	}
	if !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("err=%v want=%v", err, ErrInvalidHash)
	}
}

func TestSchemeDispatchByPrefix(t *testing.T) {
	t.Parallel()

	argonCfg := DefaultConfig()
	argonCfg.Scheme = SchemeArgon2id
	argonCfg.Argon2id.MemoryKiB = 16 * 1024
	argonCfg.Argon2id.Iterations = 1

	argonHash, err := argonCfg.Hash("pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	// A store configured for sha256 must still verify legacy argon2 records.
	shaCfg := DefaultConfig()
	shaCfg.Argon2id = argonCfg.Argon2id

	ok, err := shaCfg.Verify(argonHash, "pw")
	if err != nil || !ok {
		t.Fatalf("Verify=%v,%v", ok, err)
	}
}

func TestDigestIterationCount(t *testing.T) {
	t.Parallel()

	// One iteration is exactly sha256(salt || password).
	salt := []byte("0123456789abcdef0123456789abcdef")
	one := digestSHA256(salt, "pw", 1)
	two := digestSHA256(salt, "pw", 2)

	if len(one) != 32 || len(two) != 32 {
		t.Fatalf("digest lengths: %d, %d", len(one), len(two))
	}
	if string(one) == string(two) {
		t.Fatal("extra iteration must change the digest")
	}
}
