// Package identity is the credential persistence boundary for Parley.
//
// It stores username -> salted password hash records and answers two
// questions: "may this username be registered?" and "do these credentials
// match?". Hashing itself lives in cmd/security/password; this package only
// ever sees encoded hashes.
//
// Two implementations exist:
//   - FileStore: an in-memory map flushed to a JSON file on every mutation
//     (the default, no external dependencies)
//   - PostgresStore: the same contract over a pgx pool, selected when a
//     database URL is configured
package identity
