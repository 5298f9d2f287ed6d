package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Vault edits an age-encrypted secrets file in place. It is used by the
// secret subcommands; the running server only ever reads through Store.
type Vault struct {
	path      string
	encryptor *Encryptor
}

// OpenVault prepares an editor for the vault at path using the identity at
// identityPath. The vault file itself may not exist yet.
func OpenVault(path, identityPath string) (*Vault, error) {
	enc, err := LoadIdentity(identityPath)
	if err != nil {
		return nil, err
	}
	return &Vault{path: path, encryptor: enc}, nil
}

// Keys lists the key names currently in the vault, sorted.
func (v *Vault) Keys() ([]string, error) {
	values, err := v.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Set adds or replaces one secret and rewrites the vault.
func (v *Vault) Set(key, value string) error {
	if key == "" || strings.ContainsAny(key, "=\n") {
		return fmt.Errorf("invalid secret key %q", key)
	}
	values, err := v.load()
	if err != nil {
		return err
	}
	values[key] = value
	return v.save(values)
}

// Remove deletes one secret and rewrites the vault. Removing a key that is
// not present is an error so typos surface.
func (v *Vault) Remove(key string) error {
	values, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return fmt.Errorf("secret %q not found", key)
	}
	delete(values, key)
	return v.save(values)
}

func (v *Vault) load() (map[string]string, error) {
	data, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	plain, err := v.encryptor.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("decrypt vault: %w", err)
	}
	return parseEnv(plain)
}

func (v *Vault) save(values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, values[k])
	}

	sealed, err := v.encryptor.Encrypt([]byte(b.String()))
	if err != nil {
		return fmt.Errorf("encrypt vault: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	if err := os.WriteFile(v.path, sealed, 0o600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	return nil
}
