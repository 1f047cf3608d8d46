package agent

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// LoadOrCreateKeypair reads the agent's Ed25519 seed from path,
// generating and persisting a fresh one (0600, root-owned since the
// agent runs elevated) if the file does not exist. The seed never
// leaves this file; clients only ever see tokens signed with it.
func LoadOrCreateKeypair(path string) (ed25519.PrivateKey, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("agent: key file %s has %d bytes, want %d", path, len(seed), ed25519.SeedSize)
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("agent: reading key file: %w", err)
	}

	seed = make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("agent: generating key seed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("agent: creating key directory: %w", err)
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, fmt.Errorf("agent: writing key file: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
