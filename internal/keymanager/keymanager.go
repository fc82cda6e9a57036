// Package keymanager handles generation, sealed-at-rest storage, and
// rotation of the RSA signing keys internal/tokencodec uses to sign access,
// ID, and state JWTs. Keys live in a durable table (internal/store) with
// private material sealed by internal/sealedbox; nothing key-shaped ever
// passes through an environment variable.
package keymanager

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/sealedbox"
	"github.com/lavente-care/ciam/internal/store"
)

// ErrNoCurrentKey is returned by Current when no signing key has been
// loaded yet (Bootstrap has not run, or did not succeed).
var ErrNoCurrentKey = errors.New("keymanager: no current signing key")

// ErrAmbiguousCurrentKey indicates more than one row claims is_current,
// which should be unreachable given the unique partial index in
// migrations. Bootstrap does not return it.
var ErrAmbiguousCurrentKey = errors.New("keymanager: more than one current signing key")

const rsaKeyBits = 2048

// JWK is a single entry in a published JSON Web Key Set.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// JWKS is the document served at the JWKS endpoint.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// keyStore is the subset of internal/store that keymanager depends on,
// narrowed for testability.
type keyStore interface {
	GetCurrentSigningKey(ctx context.Context) (store.SigningKey, error)
	ListVerifiableKeys(ctx context.Context) ([]store.SigningKey, error)
	InsertSigningKey(ctx context.Context, k store.SigningKey) error
	DemoteCurrentSigningKey(ctx context.Context, graceExpiresAt time.Time) error
}

type cachedKey struct {
	kid     string
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// Manager caches the current signing key and any predecessor still inside
// its grace window, refreshing from the database on rotation and on a
// verifier cache miss (an unrecognized kid after a rotation on another
// replica).
type Manager struct {
	db       keyStore
	box      *sealedbox.Box
	graceTTL time.Duration

	mu        sync.RWMutex
	current   *cachedKey
	verifiers map[string]*rsa.PublicKey
}

// New constructs a Manager. graceTTL is how long a demoted key remains
// acceptable for verification after rotation; New applies no default
// (cmd/api and cmd/keygen pass 24h).
func New(db keyStore, box *sealedbox.Box, graceTTL time.Duration) *Manager {
	return &Manager{
		db:        db,
		box:       box,
		graceTTL:  graceTTL,
		verifiers: make(map[string]*rsa.PublicKey),
	}
}

// Bootstrap loads the current key at process start, enforcing exactly one
// current row exists. If the table is empty (first boot), it generates and
// persists the first key.
func (m *Manager) Bootstrap(ctx context.Context) error {
	row, err := m.db.GetCurrentSigningKey(ctx)
	if errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		// Any error other than cancellation is treated as an empty table.
		// If a current key does exist, the unique partial index on
		// is_current makes the first-key insert fail, and that error is
		// returned.
		return m.bootstrapFirstKey(ctx)
	}

	priv, err := m.unseal(row)
	if err != nil {
		return fmt.Errorf("keymanager: bootstrap: %w", err)
	}

	m.mu.Lock()
	m.current = &cachedKey{kid: row.ID, private: priv, public: &priv.PublicKey}
	m.verifiers[row.ID] = &priv.PublicKey
	m.mu.Unlock()

	return m.loadGraceVerifiers(ctx)
}

func (m *Manager) bootstrapFirstKey(ctx context.Context) error {
	kid, priv, err := m.generateAndStore(ctx, nil)
	if err != nil {
		return fmt.Errorf("keymanager: bootstrap first key: %w", err)
	}
	m.mu.Lock()
	m.current = &cachedKey{kid: kid, private: priv, public: &priv.PublicKey}
	m.verifiers[kid] = &priv.PublicKey
	m.mu.Unlock()
	return nil
}

func (m *Manager) loadGraceVerifiers(ctx context.Context) error {
	rows, err := m.db.ListVerifiableKeys(ctx)
	if err != nil {
		return fmt.Errorf("keymanager: loading verifiable keys: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		if _, ok := m.verifiers[row.ID]; ok {
			continue
		}
		pub, err := x509.ParsePKIXPublicKey(row.PublicKey)
		if err != nil {
			continue
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			continue
		}
		m.verifiers[row.ID] = rsaPub
	}
	return nil
}

// Current returns the active signing key for new tokens.
func (m *Manager) Current() (kid string, priv *rsa.PrivateKey, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return "", nil, ErrNoCurrentKey
	}
	return m.current.kid, m.current.private, nil
}

// Verifier resolves a kid to a public key for token verification. A miss
// triggers a single reload from the database before giving up, covering the
// case where another replica rotated since this process last refreshed.
func (m *Manager) Verifier(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	m.mu.RLock()
	pub, ok := m.verifiers[kid]
	m.mu.RUnlock()
	if ok {
		return pub, nil
	}

	if err := m.loadGraceVerifiers(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	pub, ok = m.verifiers[kid]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("keymanager: unknown kid %q", kid)
	}
	return pub, nil
}

// JWKS builds the published key set from every verifier currently cached
// (current key plus any key still in its grace window).
func (m *Manager) JWKS() *JWKS {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jwks := &JWKS{Keys: make([]JWK, 0, len(m.verifiers))}
	for kid, pub := range m.verifiers {
		jwks.Keys = append(jwks.Keys, toJWK(kid, pub))
	}
	return jwks
}

// Rotate generates a fresh key, promotes it to current, and demotes the
// previous key into its grace window rather than revoking it immediately —
// in-flight tokens signed moments ago must keep verifying.
func (m *Manager) Rotate(ctx context.Context) (string, error) {
	graceExpiry := time.Now().Add(m.graceTTL)
	if err := m.db.DemoteCurrentSigningKey(ctx, graceExpiry); err != nil {
		return "", fmt.Errorf("keymanager: demoting current key: %w", err)
	}

	kid, priv, err := m.generateAndStore(ctx, &graceExpiry)
	if err != nil {
		return "", fmt.Errorf("keymanager: rotate: %w", err)
	}

	m.mu.Lock()
	m.current = &cachedKey{kid: kid, private: priv, public: &priv.PublicKey}
	m.verifiers[kid] = &priv.PublicKey
	m.mu.Unlock()

	return kid, nil
}

func (m *Manager) generateAndStore(ctx context.Context, _ *time.Time) (string, *rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return "", nil, fmt.Errorf("generating RSA key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", nil, fmt.Errorf("marshaling public key: %w", err)
	}

	privDER := x509.MarshalPKCS1PrivateKey(priv)
	sealed, err := m.box.Seal(string(privDER))
	if err != nil {
		return "", nil, fmt.Errorf("sealing private key: %w", err)
	}

	kid := uuid.New().String()
	if err := m.db.InsertSigningKey(ctx, store.SigningKey{
		ID:               kid,
		Algorithm:        store.AlgorithmRS256,
		PublicKey:        pubDER,
		PrivateKeySealed: sealed,
		IsCurrent:        true,
	}); err != nil {
		return "", nil, fmt.Errorf("persisting signing key: %w", err)
	}

	return kid, priv, nil
}

func (m *Manager) unseal(row store.SigningKey) (*rsa.PrivateKey, error) {
	plain, err := m.box.Open(row.PrivateKeySealed)
	if err != nil {
		return nil, fmt.Errorf("unsealing private key %s: %w", row.ID, err)
	}
	priv, err := x509.ParsePKCS1PrivateKey([]byte(plain))
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", row.ID, err)
	}
	return priv, nil
}

func toJWK(kid string, pub *rsa.PublicKey) JWK {
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	return JWK{Kty: "RSA", Kid: kid, Use: "sig", N: n, E: e, Alg: "RS256"}
}
