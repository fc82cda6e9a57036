package passwordhash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testParams keeps the argon2 work factor low so the suite stays fast; the
// production floor is exercised by DefaultParams' values, not re-hashed here.
var testParams = Params{
	MemoryKiB:   8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func TestHashVerify_RoundTrip(t *testing.T) {
	h := New(testParams)
	hash, err := h.Hash("UserPass456!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, needsRehash, err := h.Verify(hash, "UserPass456!")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, needsRehash)
}

func TestVerify_WrongPasswordFails(t *testing.T) {
	h := New(testParams)
	hash, err := h.Hash("correct-horse")
	require.NoError(t, err)

	ok, _, err := h.Verify(hash, "battery-staple")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_SaltsDiffer(t *testing.T) {
	h := New(testParams)
	h1, err := h.Hash("same-password")
	require.NoError(t, err)
	h2, err := h.Hash("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestVerify_LegacyBcryptUpgradesOnMatch(t *testing.T) {
	h := New(testParams)
	legacy, err := HashLegacyBcrypt("OldPass123!")
	require.NoError(t, err)

	ok, needsRehash, err := h.Verify(legacy, "OldPass123!")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, needsRehash, "a matching bcrypt hash must be flagged for upgrade")

	ok, needsRehash, err = h.Verify(legacy, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, needsRehash)
}

func TestVerify_WeakerParamsFlagRehash(t *testing.T) {
	weak := New(Params{MemoryKiB: 4 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	hash, err := weak.Hash("UserPass456!")
	require.NoError(t, err)

	// Verifying under a stronger configured floor succeeds but asks for a
	// transparent upgrade.
	strong := New(testParams)
	ok, needsRehash, err := strong.Verify(hash, "UserPass456!")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, needsRehash)
}

func TestVerify_MalformedHashErrors(t *testing.T) {
	h := New(testParams)
	_, _, err := h.Verify("plainly-not-a-hash", "anything")
	assert.Error(t, err)

	_, _, err = h.Verify("$argon2id$v=19$garbage", "anything")
	assert.Error(t, err)
}

func TestVerifyUnknownUser_DoesNotPanic(t *testing.T) {
	h := New(testParams)
	h.VerifyUnknownUser("any-password")
}
