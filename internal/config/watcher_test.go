package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keyFileRecorder collects watcher callbacks for assertions.
type keyFileRecorder struct {
	mu    sync.Mutex
	files []*KeyFile
	errs  []error
}

func (r *keyFileRecorder) record(kf *KeyFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, kf)
}

func (r *keyFileRecorder) recordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *keyFileRecorder) loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

func (r *keyFileRecorder) last() *KeyFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.files) == 0 {
		return nil
	}
	return r.files[len(r.files)-1]
}

func (r *keyFileRecorder) errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func TestKeyFileWatcher_InitialLoad(t *testing.T) {
	path := writeTempFile(t, "keys.yaml", "keys:\n  - key: initial-key-1234\n")

	recorder := &keyFileRecorder{}
	w, err := NewKeyFileWatcher(path, recorder.record, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	require.NoError(t, w.Start(context.Background()))

	require.Equal(t, 1, recorder.loads())
	assert.Equal(t, []string{"initial-key-1234"}, recorder.last().Plaintext())
}

func TestKeyFileWatcher_ReloadOnChange(t *testing.T) {
	path := writeTempFile(t, "keys.yaml", "keys:\n  - key: before-key-1234\n")

	recorder := &keyFileRecorder{}
	w, err := NewKeyFileWatcher(path, recorder.record, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte("keys:\n  - key: after-key-56789\n"), 0o600))

	assert.Eventually(t, func() bool {
		last := recorder.last()
		return last != nil && len(last.Plaintext()) == 1 && last.Plaintext()[0] == "after-key-56789"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestKeyFileWatcher_BadReloadKeepsPreviousSet(t *testing.T) {
	path := writeTempFile(t, "keys.yaml", "keys:\n  - key: stable-key-1234\n")

	recorder := &keyFileRecorder{}
	w, err := NewKeyFileWatcher(path, recorder.record,
		WithDebounceDelay(10*time.Millisecond),
		WithErrorCallback(recorder.recordError),
	)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	require.NoError(t, w.Start(context.Background()))
	require.Equal(t, 1, recorder.loads())

	require.NoError(t, os.WriteFile(path, []byte("keys: [broken"), 0o600))

	assert.Eventually(t, func() bool {
		return recorder.errors() > 0
	}, 2*time.Second, 20*time.Millisecond)

	// No new key file was delivered.
	assert.Equal(t, 1, recorder.loads())
}

func TestKeyFileWatcher_MissingFile(t *testing.T) {
	recorder := &keyFileRecorder{}
	w, err := NewKeyFileWatcher(filepath.Join(t.TempDir(), "absent.yaml"), recorder.record)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Error(t, w.Start(context.Background()))
}

func TestKeyFileWatcher_StopIdempotent(t *testing.T) {
	path := writeTempFile(t, "keys.yaml", "keys:\n  - key: stop-test-key-12\n")

	w, err := NewKeyFileWatcher(path, func(*KeyFile) {})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
