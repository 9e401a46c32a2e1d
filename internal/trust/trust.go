// Package trust loads the read-only trust store and local policy
// consulted by the verifier (spec §6, SPEC_FULL §5). Administering the
// store — creation, rotation, distribution — is out of scope per
// spec.md §1; this package only ever reads.
package trust

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ocx/flashfreeze/internal/errs"
)

// Store is the parsed contents of governance/trust_store.json.
type Store struct {
	AllowedKeys []string `json:"allowed_keys"`
}

// Allows reports whether publisherKeyHex is present in the store.
func (s *Store) Allows(publisherKeyHex string) bool {
	for _, k := range s.AllowedKeys {
		if k == publisherKeyHex {
			return true
		}
	}
	return false
}

// Policy is the parsed contents of governance/local_policy.json.
type Policy struct {
	// ElevateResidualGaps promotes an in-window missing residual frame
	// from a reported-but-non-fatal condition to a fatal one, per
	// spec §4.5's "reported but not fatal unless a policy flag elevates
	// it" clause.
	ElevateResidualGaps bool `json:"elevate_residual_gaps"`
}

// LoadStore reads governance/trust_store.json from dir.
func LoadStore(dir string) (*Store, error) {
	var s Store
	if err := loadJSON(filepath.Join(dir, "trust_store.json"), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadPolicy reads governance/local_policy.json from dir. A missing file
// yields the zero-value Policy (no elevation), since the policy flag is
// optional.
func LoadPolicy(dir string) (*Policy, error) {
	path := filepath.Join(dir, "local_policy.json")
	var p Policy
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &p, nil
	}
	if err := loadJSON(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.At(errs.ManifestInvalid, path, 0, "required governance file not found")
		}
		return errs.Wrap(errs.IOError, path, 0, "reading governance file", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Wrap(errs.ManifestInvalid, path, 0, "governance file is not valid JSON", err)
	}
	return nil
}
