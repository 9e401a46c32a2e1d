// Package shard lays out and writes the Flash-Freeze shard tree (C7,
// spec §4.7): columnar tables, a BLAKE3 Merkle manifest, and a detached
// Ed25519 signature written last as the commit point.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ocx/flashfreeze/internal/columnar"
	"github.com/ocx/flashfreeze/internal/errs"
	"github.com/ocx/flashfreeze/internal/graph"
	"github.com/ocx/flashfreeze/internal/judge"
	"github.com/ocx/flashfreeze/internal/merkle"
	"github.com/ocx/flashfreeze/internal/shardsign"
)

const specVersion = "flash-freeze/1"

// Clock is injectable so tests and replayed compilations produce
// identical manifest "created" timestamps (spec §9).
type Clock func() time.Time

// Input bundles everything the writer needs beyond the output directory.
type Input struct {
	EventsBytes   []byte
	Graph         graph.Graph
	StreamRows    []judge.StreamRow
	Signer        *shardsign.Signer
	Clock         Clock
	TrustStoreDir string // directory containing trust_store.json / local_policy.json to embed
}

// Write emits the full shard tree under outDir. Directory entries are
// created in a fixed order; manifest.json is serialized last before
// signing, and sig/manifest.sig is written last of all, per spec §4.7's
// determinism rules and §5's "no partial shard" cancellation semantics.
func Write(outDir string, in Input) error {
	dirs := []string{"content", "graph", "evidence", "governance", "sig"}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(outDir, d), 0o755); err != nil {
			return errs.Wrap(errs.IOError, filepath.Join(outDir, d), 0, "creating shard directory", err)
		}
	}

	if err := writeFile(outDir, "content/events.jsonl", in.EventsBytes); err != nil {
		return err
	}

	enc := columnar.DeterministicEncoder{}

	entitiesBytes, err := enc.WriteRows(entitySchema, entityRows(in.Graph.Entities))
	if err != nil {
		return err
	}
	if err := writeFile(outDir, "graph/entities.parquet", entitiesBytes); err != nil {
		return err
	}

	claimsBytes, err := enc.WriteRows(claimSchema, claimRows(in.Graph.Claims))
	if err != nil {
		return err
	}
	if err := writeFile(outDir, "graph/claims.parquet", claimsBytes); err != nil {
		return err
	}

	provBytes, err := enc.WriteRows(provenanceSchema, provenanceRows(in.Graph.Provenances))
	if err != nil {
		return err
	}
	if err := writeFile(outDir, "graph/provenance.parquet", provBytes); err != nil {
		return err
	}

	spansBytes, err := enc.WriteRows(spanSchema, spanRows(in.Graph.Spans))
	if err != nil {
		return err
	}
	if err := writeFile(outDir, "evidence/spans.parquet", spansBytes); err != nil {
		return err
	}

	streamsBytes, err := enc.WriteRows(streamSchema, streamRowsToTable(in.StreamRows))
	if err != nil {
		return err
	}
	if err := writeFile(outDir, "evidence/streams.parquet", streamsBytes); err != nil {
		return err
	}

	if err := copyGovernanceFile(in.TrustStoreDir, outDir, "trust_store.json"); err != nil {
		return err
	}
	if err := copyGovernanceFile(in.TrustStoreDir, outDir, "local_policy.json"); err != nil {
		return err
	}

	merkleRoot, err := computeMerkleRoot(outDir)
	if err != nil {
		return err
	}

	capsuleHash := sha256Hex(in.EventsBytes)
	manifest := map[string]any{
		"capsule_hash": capsuleHash,
		"created":      in.Clock().UTC().Format(time.RFC3339),
		"merkle_root":  hex.EncodeToString(merkleRoot[:]),
		"publisher":    in.Signer.PublicKeyHex(),
		"spec":         specVersion,
	}
	manifestBytes, err := marshalSortedJSON(manifest)
	if err != nil {
		return errs.Wrap(errs.ManifestInvalid, filepath.Join(outDir, "manifest.json"), 0, "marshaling manifest", err)
	}
	if err := writeFile(outDir, "manifest.json", manifestBytes); err != nil {
		return err
	}

	sig := in.Signer.Sign(manifestBytes)
	if err := writeFile(outDir, "sig/publisher.pub", in.Signer.PublicKey()); err != nil {
		return err
	}
	// Written last: its presence is the shard's commit point (spec §5).
	if err := writeFile(outDir, "sig/manifest.sig", sig); err != nil {
		return err
	}

	return nil
}

func writeFile(outDir, rel string, data []byte) error {
	path := filepath.Join(outDir, rel)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.IOError, path, 0, "writing shard file", err)
	}
	return nil
}

func copyGovernanceFile(trustDir, outDir, name string) error {
	data, err := os.ReadFile(filepath.Join(trustDir, name))
	if err != nil {
		return errs.Wrap(errs.IOError, filepath.Join(trustDir, name), 0, "reading governance source file", err)
	}
	return writeFile(outDir, filepath.Join("governance", name), data)
}

// computeMerkleRoot enumerates every file under outDir except
// manifest.json and sig/, per spec §4.7.
func computeMerkleRoot(outDir string) ([32]byte, error) {
	var files []merkle.File
	err := filepath.Walk(outDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(outDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "manifest.json" || len(rel) >= 4 && rel[:4] == "sig/" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, merkle.File{Path: rel, Bytes: data})
		return nil
	})
	if err != nil {
		return [32]byte{}, errs.Wrap(errs.IOError, outDir, 0, "walking shard tree for merkle root", err)
	}
	return merkle.Build(files).Root(), nil
}

// marshalSortedJSON relies on encoding/json's map-key sorting (Go sorts
// map[string]any keys alphabetically since 1.12) to satisfy the
// "sorted keys, UTF-8, no trailing whitespace" rule in spec §4.7; LF line
// endings hold because json.Marshal never emits CR.
func marshalSortedJSON(v map[string]any) ([]byte, error) {
	return json.Marshal(v)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
