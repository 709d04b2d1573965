package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/guardrail-io/admission/internal/observability"
)

// MinKeyLength is the minimum accepted API key length.
const MinKeyLength = 8

// Result is the outcome of a successful authentication.
type Result struct {
	// Authenticated is always true on a non-error return.
	Authenticated bool

	// KeyID is the masked identifier of the matched key, safe for logs.
	KeyID string
}

// Authenticator validates presented API keys against a configured set.
// Keys may be added and removed at runtime (rotation) concurrently with
// validation. Each comparison against a candidate key is constant time
// with respect to where a mismatch occurs; the scan returns on the
// first full match.
type Authenticator struct {
	mu sync.RWMutex

	// keys holds the configured plaintext keys.
	keys map[string]struct{}

	// maskedByHash maps the SHA-256 of each key to its masked
	// identifier, so logging never touches the raw key.
	maskedByHash map[string]string

	// hashed holds bcrypt-at-rest key entries loaded from a key file.
	hashed []hashedKey

	logger  observability.Logger
	metrics *Metrics
}

type hashedKey struct {
	hash []byte
	id   string
}

// Option is a functional option for the authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger for the authenticator.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics for the authenticator.
func WithMetrics(metrics *Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// NewAuthenticator creates an authenticator with the given initial
// keys. Every key must be at least MinKeyLength characters.
func NewAuthenticator(keys []string, opts ...Option) (*Authenticator, error) {
	a := &Authenticator{
		keys:         make(map[string]struct{}, len(keys)),
		maskedByHash: make(map[string]string, len(keys)),
		logger:       observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.metrics == nil {
		a.metrics = NewMetrics("admission")
	}

	for _, key := range keys {
		if _, err := a.AddKey(key); err != nil {
			return nil, fmt.Errorf("invalid initial key %s: %w", MaskKey(key), err)
		}
	}

	return a, nil
}

// AddKey registers a key and returns its masked identifier. The key
// must be at least MinKeyLength characters.
func (a *Authenticator) AddKey(key string) (string, error) {
	if len(key) < MinKeyLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrKeyTooShort, MinKeyLength)
	}

	masked := MaskKey(key)

	a.mu.Lock()
	a.keys[key] = struct{}{}
	a.maskedByHash[hashKey(key)] = masked
	count := len(a.keys) + len(a.hashed)
	a.mu.Unlock()

	a.metrics.SetKeyCount(count)
	a.logger.Debug("API key added", observability.String("key_id", masked))
	return masked, nil
}

// AddHashedKey registers a bcrypt-at-rest key entry under the given
// identifier.
func (a *Authenticator) AddHashedKey(bcryptHash, id string) error {
	if _, err := bcrypt.Cost([]byte(bcryptHash)); err != nil {
		return fmt.Errorf("invalid bcrypt hash for key %q: %w", id, err)
	}
	if id == "" {
		id = "****"
	}

	a.mu.Lock()
	a.hashed = append(a.hashed, hashedKey{hash: []byte(bcryptHash), id: id})
	count := len(a.keys) + len(a.hashed)
	a.mu.Unlock()

	a.metrics.SetKeyCount(count)
	return nil
}

// RemoveKey unregisters a plaintext key. It reports whether the key was
// present.
func (a *Authenticator) RemoveKey(key string) bool {
	a.mu.Lock()
	_, existed := a.keys[key]
	delete(a.keys, key)
	delete(a.maskedByHash, hashKey(key))
	count := len(a.keys) + len(a.hashed)
	a.mu.Unlock()

	a.metrics.SetKeyCount(count)
	if existed {
		a.logger.Debug("API key removed", observability.String("key_id", MaskKey(key)))
	}
	return existed
}

// ReplaceKeys atomically swaps the whole key set. Used by key file
// rotation so readers never observe a partially updated set. Hashed
// entries are replaced as well.
func (a *Authenticator) ReplaceKeys(keys []string, hashed map[string]string) error {
	nextKeys := make(map[string]struct{}, len(keys))
	nextMasked := make(map[string]string, len(keys))
	for _, key := range keys {
		if len(key) < MinKeyLength {
			return fmt.Errorf("%w: need at least %d characters", ErrKeyTooShort, MinKeyLength)
		}
		nextKeys[key] = struct{}{}
		nextMasked[hashKey(key)] = MaskKey(key)
	}

	nextHashed := make([]hashedKey, 0, len(hashed))
	for id, hash := range hashed {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return fmt.Errorf("invalid bcrypt hash for key %q: %w", id, err)
		}
		nextHashed = append(nextHashed, hashedKey{hash: []byte(hash), id: id})
	}

	a.mu.Lock()
	a.keys = nextKeys
	a.maskedByHash = nextMasked
	a.hashed = nextHashed
	count := len(a.keys) + len(a.hashed)
	a.mu.Unlock()

	a.metrics.SetKeyCount(count)
	a.logger.Info("API key set replaced", observability.Int("keys", count))
	return nil
}

// KeyCount returns the number of configured keys.
func (a *Authenticator) KeyCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.keys) + len(a.hashed)
}

// IsValid reports whether the presented key exactly matches a
// configured key. Each candidate comparison is constant time so the
// comparison duration does not depend on where a mismatch occurs
// within a key.
func (a *Authenticator) IsValid(key string) bool {
	_, ok := a.match(key)
	return ok
}

// match scans the configured keys for the presented credential and
// returns the masked identifier of the match.
func (a *Authenticator) match(key string) (string, bool) {
	if key == "" {
		return "", false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	candidate := []byte(key)
	for configured := range a.keys {
		if subtle.ConstantTimeCompare(candidate, []byte(configured)) == 1 {
			return a.maskedByHash[hashKey(configured)], true
		}
	}

	for _, entry := range a.hashed {
		if bcrypt.CompareHashAndPassword(entry.hash, candidate) == nil {
			return entry.id, true
		}
	}

	return "", false
}

// Authenticate validates the presented key. It returns an AuthError
// with code MISSING_API_KEY when the key is empty and INVALID_API_KEY
// when it matches no configured key.
func (a *Authenticator) Authenticate(key string) (*Result, error) {
	start := time.Now()

	if key == "" {
		a.metrics.RecordAuthentication("missing", time.Since(start))
		return nil, newMissingKeyError()
	}

	masked, ok := a.match(key)
	if !ok {
		a.metrics.RecordAuthentication("invalid", time.Since(start))
		return nil, newInvalidKeyError()
	}

	a.metrics.RecordAuthentication("success", time.Since(start))
	return &Result{Authenticated: true, KeyID: masked}, nil
}

// MaskKey returns a partially redacted form of the key safe for logs:
// the first and last four characters for keys longer than eight
// characters, "****" otherwise.
func MaskKey(key string) string {
	if len(key) <= MinKeyLength {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashKey returns the hex SHA-256 of a key, used to index masked
// identifiers without retaining raw keys in log paths.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
