package app

import (
	"testing"

	"parley/cmd/security/password"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	sha := password.DefaultConfig()

	argon := password.DefaultConfig()
	argon.Scheme = password.SchemeArgon2id

	weakArgon := argon
	weakArgon.Argon2id.MemoryKiB = 16 * 1024

	cases := []struct {
		name    string
		cfg     Config
		hasher  password.Config
		wantErr bool
	}{
		{name: "policy off, sha256", cfg: Config{}, hasher: sha},
		{name: "policy off, argon2", cfg: Config{}, hasher: argon},
		{name: "policy on, argon2", cfg: Config{RequireArgon2: true}, hasher: argon},
		{name: "policy on, sha256", cfg: Config{RequireArgon2: true}, hasher: sha, wantErr: true},
		{name: "policy on, weak argon2", cfg: Config{RequireArgon2: true}, hasher: weakArgon, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSecurityConfig(tc.cfg, tc.hasher)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}
