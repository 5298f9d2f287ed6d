// Package secrets holds the key/value secret store backing {{secret:KEY}}
// template expansion. Values are loaded from a KEY=value file, optionally
// age-encrypted at rest, and never leave the process through any API
// surface: callers see key names only.
package secrets

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// Store is the in-memory secret table. Reload replaces the table wholesale;
// reads are concurrent.
type Store struct {
	path      string
	encryptor *Encryptor // non-nil when the file is an age vault

	mu     sync.RWMutex
	values map[string]string

	logger *slog.Logger
}

// Open loads secrets from path. A missing file yields an empty store (logged,
// not fatal). When identityPath is non-empty and the file carries the .age
// suffix, the contents are decrypted before parsing.
func Open(path, identityPath string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		values: make(map[string]string),
		logger: logger,
	}

	if identityPath != "" && strings.HasSuffix(path, ".age") {
		enc, err := LoadIdentity(identityPath)
		if err != nil {
			return nil, fmt.Errorf("load age identity: %w", err)
		}
		s.encryptor = enc
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the value for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Keys returns all secret key names, sorted. Values are never listed.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of loaded secrets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Reload re-reads the backing file and replaces the table.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Warn("secrets file not found, starting empty", "path", s.path)
		s.mu.Lock()
		s.values = make(map[string]string)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read secrets file: %w", err)
	}

	if s.encryptor != nil {
		data, err = s.encryptor.Decrypt(data)
		if err != nil {
			return fmt.Errorf("decrypt secrets file: %w", err)
		}
	}

	values, err := parseEnv(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()

	s.logger.Info("secrets loaded", "path", s.path, "keys", len(values))
	return nil
}

// Mask replaces every secret value appearing in text with a redaction
// marker, so error messages and logs cannot leak resolved secrets.
func (s *Store) Mask(text string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.values {
		if v == "" {
			continue
		}
		text = strings.ReplaceAll(text, v, "[REDACTED]")
	}
	return text
}

// parseEnv parses KEY=value lines. Blank lines and # comments are skipped;
// values keep everything after the first '=' with one matching pair of
// surrounding quotes removed.
func parseEnv(data []byte) (map[string]string, error) {
	values := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = unquote(strings.TrimSpace(value))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan secrets file: %w", err)
	}
	return values, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
