package tokencodec_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/ciam/internal/keymanager"
	"github.com/lavente-care/ciam/internal/sealedbox"
	"github.com/lavente-care/ciam/internal/store"
	"github.com/lavente-care/ciam/internal/tokencodec"
)

const testIssuer = "https://id.example.test"

// fakeKeyStore backs a real keymanager.Manager without a database.
type fakeKeyStore struct {
	mu   sync.Mutex
	keys []store.SigningKey
}

func (f *fakeKeyStore) GetCurrentSigningKey(_ context.Context) (store.SigningKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.IsCurrent {
			return k, nil
		}
	}
	return store.SigningKey{}, errors.New("no rows")
}

func (f *fakeKeyStore) ListVerifiableKeys(_ context.Context) ([]store.SigningKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.SigningKey(nil), f.keys...), nil
}

func (f *fakeKeyStore) InsertSigningKey(_ context.Context, k store.SigningKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, k)
	return nil
}

func (f *fakeKeyStore) DemoteCurrentSigningKey(_ context.Context, graceExpiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.keys {
		if f.keys[i].IsCurrent {
			f.keys[i].IsCurrent = false
			expires := graceExpiresAt
			f.keys[i].ExpiresAt = &expires
		}
	}
	return nil
}

func newCodec(t *testing.T) (*tokencodec.Codec, *keymanager.Manager) {
	t.Helper()
	keyHex, err := sealedbox.GenerateKey()
	require.NoError(t, err)
	box, err := sealedbox.New(keyHex)
	require.NoError(t, err)
	keys := keymanager.New(&fakeKeyStore{}, box, 24*time.Hour)
	require.NoError(t, keys.Bootstrap(context.Background()))
	return tokencodec.New(keys, testIssuer, testIssuer), keys
}

func TestAccessToken_RoundTrip(t *testing.T) {
	codec, _ := newCodec(t)
	userID := uuid.New()
	tenantID := uuid.New()

	raw, err := codec.GenerateAccessToken(userID, &tenantID, "admin", "client-1", time.Hour)
	require.NoError(t, err)

	claims, err := codec.ValidateAccessToken(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	require.NotNil(t, claims.TenantID)
	assert.Equal(t, tenantID, *claims.TenantID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "client-1", claims.ClientID)
	assert.Equal(t, "access", claims.Scope)
	assert.Equal(t, testIssuer, claims.Issuer)
}

func TestAccessToken_TamperedPayloadFailsVerification(t *testing.T) {
	codec, _ := newCodec(t)
	raw, err := codec.GenerateAccessToken(uuid.New(), nil, "member", "", time.Hour)
	require.NoError(t, err)

	// Flip one character in the payload segment.
	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	payload := []byte(parts[1])
	if payload[10] == 'A' {
		payload[10] = 'B'
	} else {
		payload[10] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	_, err = codec.ValidateAccessToken(context.Background(), tampered)
	assert.ErrorIs(t, err, tokencodec.ErrInvalidToken)
}

func TestAccessToken_ExpiredIsRejectedDistinctly(t *testing.T) {
	codec, _ := newCodec(t)
	raw, err := codec.GenerateAccessToken(uuid.New(), nil, "member", "", -2*time.Minute)
	require.NoError(t, err)

	_, err = codec.ValidateAccessToken(context.Background(), raw)
	assert.ErrorIs(t, err, tokencodec.ErrExpiredToken)
}

func TestAccessToken_SurvivesKeyRotation(t *testing.T) {
	codec, keys := newCodec(t)
	raw, err := codec.GenerateAccessToken(uuid.New(), nil, "member", "", time.Hour)
	require.NoError(t, err)

	_, err = keys.Rotate(context.Background())
	require.NoError(t, err)

	// The old key is inside its grace window, so in-flight tokens keep
	// verifying; new tokens are signed under the new kid.
	_, err = codec.ValidateAccessToken(context.Background(), raw)
	assert.NoError(t, err)

	raw2, err := codec.GenerateAccessToken(uuid.New(), nil, "member", "", time.Hour)
	require.NoError(t, err)
	_, err = codec.ValidateAccessToken(context.Background(), raw2)
	assert.NoError(t, err)
}

func TestPreAuthToken_ScopeDistinguishesItFromAccess(t *testing.T) {
	codec, _ := newCodec(t)
	raw, err := codec.GeneratePreAuthToken(uuid.New(), 5*time.Minute)
	require.NoError(t, err)

	claims, err := codec.ValidateAccessToken(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "pre_auth", claims.Scope)
}

func TestIDToken_RoundTrip(t *testing.T) {
	codec, _ := newCodec(t)
	userID := uuid.New()
	raw, err := codec.GenerateIDToken(tokencodec.IDTokenClaims{
		UserID:        userID,
		Email:         "john@acme.test",
		EmailVerified: true,
		Name:          "John",
		Nonce:         "n-0S6_WzA2Mj",
	}, "client-1", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Len(t, strings.Split(raw, "."), 3)
}

func TestGenerateOpaqueRefreshToken_HashMatchesRaw(t *testing.T) {
	raw, hash, err := tokencodec.GenerateOpaqueRefreshToken()
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, tokencodec.HashRefreshToken(raw), hash)

	raw2, hash2, err := tokencodec.GenerateOpaqueRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
	assert.NotEqual(t, hash, hash2)
}
