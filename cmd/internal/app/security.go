package app

import (
	"errors"

	"parley/cmd/security/password"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Fail-fast is intentional: silently falling back to a weaker hashing scheme
// in production is unacceptable.
func ValidateSecurityConfig(cfg Config, hasher password.Config) error {
	if !cfg.RequireArgon2 {
		return nil
	}

	if hasher.Scheme != password.SchemeArgon2id {
		return errors.New("security policy: PARLEY_REQUIRE_ARGON2=true but PARLEY_PASSWORD_SCHEME is not argon2id")
	}

	// 64 MiB is the floor the defaults ship with; anything lower under
	// policy indicates a misconfigured environment.
	if hasher.Argon2id.MemoryKiB < 64*1024 {
		return errors.New("security policy: PARLEY_REQUIRE_ARGON2=true but argon2 memory is below 64 MiB")
	}

	return nil
}
