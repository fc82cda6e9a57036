package mfa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOTP_GenerateAndValidate(t *testing.T) {
	svc := New("https://id.example.test")

	key, qr, err := svc.GenerateTOTPSecret("john@acme.test")
	require.NoError(t, err)
	assert.NotEmpty(t, key.Secret())
	assert.NotEmpty(t, qr, "enrollment must include a QR PNG")

	code, err := svc.GenerateCode(key.Secret())
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.True(t, svc.ValidateTOTP(code, key.Secret()))
	assert.False(t, svc.ValidateTOTP("000000", key.Secret()))
}

func TestTOTP_CodeBoundToSecret(t *testing.T) {
	svc := New("https://id.example.test")
	key1, _, err := svc.GenerateTOTPSecret("a@acme.test")
	require.NoError(t, err)
	key2, _, err := svc.GenerateTOTPSecret("b@acme.test")
	require.NoError(t, err)

	code, err := svc.GenerateCode(key1.Secret())
	require.NoError(t, err)
	assert.False(t, svc.ValidateTOTP(code, key2.Secret()))
}

func TestBackupCodes_FormatAndUniqueness(t *testing.T) {
	svc := New("https://id.example.test")
	codes, err := svc.GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		assert.Len(t, c, 9)
		assert.Equal(t, "-", string(c[4]))
		assert.False(t, strings.ContainsAny(c, "IO01"), "ambiguous characters are excluded: %s", c)
		assert.False(t, seen[c], "codes must be unique: %s", c)
		seen[c] = true
	}
}

func TestHashBackupCode_Deterministic(t *testing.T) {
	assert.Equal(t, HashBackupCode("ABCD-EFGH"), HashBackupCode("ABCD-EFGH"))
	assert.NotEqual(t, HashBackupCode("ABCD-EFGH"), HashBackupCode("ABCD-EFGJ"))
}
