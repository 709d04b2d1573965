package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KeyFile is the YAML document holding rotatable API keys. Each entry
// carries either a plaintext key or a bcrypt hash, never both.
type KeyFile struct {
	Keys []KeyEntry `yaml:"keys"`
}

// KeyEntry is one API key in a key file.
type KeyEntry struct {
	// ID is a human-readable identifier used in logs for hashed keys.
	ID string `yaml:"id,omitempty"`

	// Key is the plaintext key value.
	Key string `yaml:"key,omitempty"`

	// BcryptHash is the bcrypt hash of the key, for files that must not
	// store plaintext.
	BcryptHash string `yaml:"bcryptHash,omitempty"`
}

// LoadKeyFile reads and validates a key file.
func LoadKeyFile(path string) (*KeyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	var kf KeyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}

	for i, entry := range kf.Keys {
		if entry.Key == "" && entry.BcryptHash == "" {
			return nil, fmt.Errorf("key file %s: entry %d has neither key nor bcryptHash", path, i)
		}
		if entry.Key != "" && entry.BcryptHash != "" {
			return nil, fmt.Errorf("key file %s: entry %d has both key and bcryptHash", path, i)
		}
		if entry.BcryptHash != "" && entry.ID == "" {
			return nil, fmt.Errorf("key file %s: entry %d has a bcryptHash but no id", path, i)
		}
	}

	return &kf, nil
}

// Plaintext returns the plaintext keys in the file.
func (f *KeyFile) Plaintext() []string {
	var keys []string
	for _, entry := range f.Keys {
		if entry.Key != "" {
			keys = append(keys, entry.Key)
		}
	}
	return keys
}

// Hashed returns the bcrypt entries keyed by identifier.
func (f *KeyFile) Hashed() map[string]string {
	hashed := make(map[string]string)
	for _, entry := range f.Keys {
		if entry.BcryptHash != "" {
			hashed[entry.ID] = entry.BcryptHash
		}
	}
	return hashed
}
