// Package password provides credential hashing and verification for Parley.
//
// Two schemes are supported behind one Config surface:
//   - iterated salted SHA-256 (default): base64(salt || digest), the storage
//     format existing credential files already use
//   - Argon2id: PHC-style "$argon2id$..." encoding
//
// Verify dispatches on the encoded form, so a store may hold a mix of both.
// Hash strings are treated as untrusted input during Verify and malformed
// values verify as false instead of panicking.
package password
