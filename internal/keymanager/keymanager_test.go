package keymanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/ciam/internal/sealedbox"
	"github.com/lavente-care/ciam/internal/store"
)

// fakeKeyStore is an in-memory signing-key table.
type fakeKeyStore struct {
	mu   sync.Mutex
	keys []store.SigningKey
}

var errNoRows = errors.New("no rows")

func (f *fakeKeyStore) GetCurrentSigningKey(_ context.Context) (store.SigningKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.IsCurrent {
			return k, nil
		}
	}
	return store.SigningKey{}, errNoRows
}

func (f *fakeKeyStore) ListVerifiableKeys(_ context.Context) ([]store.SigningKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var out []store.SigningKey
	for _, k := range f.keys {
		if k.IsCurrent || k.ExpiresAt == nil || k.ExpiresAt.After(now) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeKeyStore) InsertSigningKey(_ context.Context, k store.SigningKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k.CreatedAt = time.Now()
	f.keys = append(f.keys, k)
	return nil
}

func (f *fakeKeyStore) DemoteCurrentSigningKey(_ context.Context, graceExpiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for i := range f.keys {
		if f.keys[i].IsCurrent {
			f.keys[i].IsCurrent = false
			f.keys[i].RotatedAt = &now
			expires := graceExpiresAt
			f.keys[i].ExpiresAt = &expires
		}
	}
	return nil
}

func (f *fakeKeyStore) currentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.keys {
		if k.IsCurrent {
			n++
		}
	}
	return n
}

func testBox(t *testing.T) *sealedbox.Box {
	t.Helper()
	keyHex, err := sealedbox.GenerateKey()
	require.NoError(t, err)
	box, err := sealedbox.New(keyHex)
	require.NoError(t, err)
	return box
}

func TestBootstrap_EmptyTableGeneratesFirstKey(t *testing.T) {
	fs := &fakeKeyStore{}
	m := New(fs, testBox(t), 24*time.Hour)

	require.NoError(t, m.Bootstrap(context.Background()))

	kid, priv, err := m.Current()
	require.NoError(t, err)
	assert.NotEmpty(t, kid)
	assert.NotNil(t, priv)
	assert.Equal(t, 1, fs.currentCount())
}

func TestBootstrap_LoadsExistingCurrentKey(t *testing.T) {
	fs := &fakeKeyStore{}
	box := testBox(t)

	first := New(fs, box, 24*time.Hour)
	require.NoError(t, first.Bootstrap(context.Background()))
	firstKid, _, err := first.Current()
	require.NoError(t, err)

	// A second process booting against the same table must load the same
	// key, not generate another.
	second := New(fs, box, 24*time.Hour)
	require.NoError(t, second.Bootstrap(context.Background()))
	secondKid, _, err := second.Current()
	require.NoError(t, err)

	assert.Equal(t, firstKid, secondKid)
	assert.Equal(t, 1, fs.currentCount())
}

func TestRotate_ExactlyOneCurrentSurvives(t *testing.T) {
	fs := &fakeKeyStore{}
	m := New(fs, testBox(t), 24*time.Hour)
	require.NoError(t, m.Bootstrap(context.Background()))
	oldKid, _, err := m.Current()
	require.NoError(t, err)

	newKid, err := m.Rotate(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, oldKid, newKid)
	assert.Equal(t, 1, fs.currentCount())

	kid, _, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, newKid, kid)
}

func TestRotate_PredecessorStaysVerifiableInGraceWindow(t *testing.T) {
	fs := &fakeKeyStore{}
	m := New(fs, testBox(t), 24*time.Hour)
	require.NoError(t, m.Bootstrap(context.Background()))
	oldKid, _, err := m.Current()
	require.NoError(t, err)

	_, err = m.Rotate(context.Background())
	require.NoError(t, err)

	pub, err := m.Verifier(context.Background(), oldKid)
	require.NoError(t, err, "demoted key must verify until its grace expiry")
	assert.NotNil(t, pub)
}

func TestVerifier_UnknownKidFails(t *testing.T) {
	fs := &fakeKeyStore{}
	m := New(fs, testBox(t), 24*time.Hour)
	require.NoError(t, m.Bootstrap(context.Background()))

	_, err := m.Verifier(context.Background(), "no-such-kid")
	assert.Error(t, err)
}

func TestJWKS_IncludesCurrentAndGraceKeys(t *testing.T) {
	fs := &fakeKeyStore{}
	m := New(fs, testBox(t), 24*time.Hour)
	require.NoError(t, m.Bootstrap(context.Background()))
	_, err := m.Rotate(context.Background())
	require.NoError(t, err)

	jwks := m.JWKS()
	assert.Len(t, jwks.Keys, 2)
	for _, k := range jwks.Keys {
		assert.Equal(t, "RSA", k.Kty)
		assert.Equal(t, "sig", k.Use)
		assert.NotEmpty(t, k.N)
	}
}

func TestCurrent_BeforeBootstrapFails(t *testing.T) {
	m := New(&fakeKeyStore{}, testBox(t), 24*time.Hour)
	_, _, err := m.Current()
	assert.ErrorIs(t, err, ErrNoCurrentKey)
}
