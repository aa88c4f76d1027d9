// Package identity manages the stable per-installation node identifier
// that namespaces a node's journal and hash chain.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrCorruptIdentity indicates the identity file exists but cannot be
// read or does not contain a well-formed node ID. This is fatal by
// design: silently regenerating the ID would fork the logical origin of
// the node's hash chain, so recovery requires operator intervention.
var ErrCorruptIdentity = errors.New("corrupt node identity file")

// maxNodeIDLen bounds the identifier so it stays usable as a directory
// name component in the federated store.
const maxNodeIDLen = 80

// LoadOrCreate returns the node ID stored at path, creating and
// persisting a fresh one on first call. Subsequent calls always return
// the persisted value - the ID is never regenerated while the file
// exists.
func LoadOrCreate(path string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if !ValidNodeID(id) {
			return "", fmt.Errorf("%w: %s holds %q", ErrCorruptIdentity, path, id)
		}
		return id, nil
	case os.IsNotExist(err):
		// First run on this installation: fall through to generate.
	default:
		return "", fmt.Errorf("%w: reading %s: %v", ErrCorruptIdentity, path, err)
	}

	id := generate()
	if err := writeFileSync(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist node identity: %w", err)
	}
	return id, nil
}

// generate builds a node ID from the hostname plus a random suffix:
// the hostname distinguishes machines for humans, the uuid suffix
// distinguishes reinstalls on the same machine.
func generate() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	host = sanitizeHost(host)

	suffix := strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")[:12]
	id := host + "-" + suffix
	if len(id) > maxNodeIDLen {
		id = id[len(id)-maxNodeIDLen:]
	}
	return id
}

// ValidNodeID reports whether s is usable as a node identifier: ASCII
// letters, digits, dot, underscore, hyphen, and short enough to embed
// in paths.
func ValidNodeID(s string) bool {
	if s == "" || len(s) > maxNodeIDLen {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

func sanitizeHost(host string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(host) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "node"
	}
	if len(out) > 32 {
		out = out[:32]
	}
	return out
}

// writeFileSync writes data to a temporary file, syncs it, and renames
// it into place so a crash never leaves a half-written identity file.
func writeFileSync(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
