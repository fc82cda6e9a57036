// Package passwordhash implements Argon2id as the install-wide password
// hash, with transparent recognition and upgrade of legacy bcrypt hashes
// on successful login.
package passwordhash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Params controls Argon2id's cost. Defaults sit above the OWASP floor
// (memory >= 19 MiB, iterations >= 2, parallelism >= 1).
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams is the install-wide Argon2id configuration.
var DefaultParams = Params{
	MemoryKiB:   64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

const bcryptCost = 12

// dummyHash lets Verify take the same code path (and roughly the same time)
// for "no such user" as for "wrong password" — the caller always has a hash
// to compare against, real or not, closing the user-enumeration timing
// side-channel.
var dummyHash, _ = hashArgon2id("not-a-real-password-but-a-fixed-one", DefaultParams)

// Hasher hashes and verifies passwords, transparently recognizing bcrypt
// hashes left over from the legacy algorithm.
type Hasher struct {
	params Params
}

// New builds a Hasher with the given Argon2id parameters.
func New(params Params) *Hasher {
	return &Hasher{params: params}
}

// Hash produces a new Argon2id hash for storage.
func (h *Hasher) Hash(password string) (string, error) {
	return hashArgon2id(password, h.params)
}

// Verify checks password against hash, recognizing both Argon2id and legacy
// bcrypt encodings. needsRehash is true when the stored hash should be
// replaced with a fresh Argon2id hash on this successful login — either
// because it's still bcrypt, or because it was Argon2id hashed under
// weaker-than-current parameters.
func (h *Hasher) Verify(hash, password string) (ok bool, needsRehash bool, err error) {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return h.verifyArgon2id(hash, password)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		return err == nil, err == nil, nil
	default:
		return false, false, fmt.Errorf("passwordhash: unrecognized hash encoding")
	}
}

// VerifyUnknownUser runs a fixed-cost comparison against password when no
// user record exists, so failed-login response time doesn't reveal whether
// the account exists.
func (h *Hasher) VerifyUnknownUser(password string) {
	_, _, _ = h.verifyArgon2id(dummyHash, password)
}

func (h *Hasher) verifyArgon2id(encoded, password string) (ok bool, needsRehash bool, err error) {
	params, salt, wantKey, err := decodeArgon2id(encoded)
	if err != nil {
		return false, false, err
	}
	gotKey := argon2.IDKey([]byte(password), salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(wantKey)))
	match := subtle.ConstantTimeCompare(gotKey, wantKey) == 1
	needsRehash = match && weakerThan(params, h.params)
	return match, needsRehash, nil
}

func weakerThan(got, want Params) bool {
	return got.MemoryKiB < want.MemoryKiB || got.Iterations < want.Iterations || got.Parallelism < want.Parallelism
}

func hashArgon2id(password string, p Params) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("passwordhash: generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Iterations, p.Parallelism, b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

func decodeArgon2id(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return Params{}, nil, nil, fmt.Errorf("passwordhash: malformed argon2id hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, fmt.Errorf("passwordhash: malformed version segment: %w", err)
	}
	if version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("passwordhash: unsupported argon2 version %d", version)
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, fmt.Errorf("passwordhash: malformed params segment: %w", err)
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("passwordhash: malformed salt: %w", err)
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("passwordhash: malformed key: %w", err)
	}

	return p, salt, key, nil
}

// HashLegacyBcrypt exists only for tests and the seed tool to produce a
// legacy-format hash exercising the upgrade path.
func HashLegacyBcrypt(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("passwordhash: hashing legacy bcrypt: %w", err)
	}
	return string(bytes), nil
}
