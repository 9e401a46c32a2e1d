// Package verify implements the inverse pass (C8, spec §4.8): parse the
// manifest, check the trust store, verify the signature, recompute the
// Merkle root, and — if a capsule path is supplied — re-scan binaries,
// re-run the judge, and byte-compare every span against capsule bytes.
package verify

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ocx/flashfreeze/internal/binrec"
	"github.com/ocx/flashfreeze/internal/capsule"
	"github.com/ocx/flashfreeze/internal/columnar"
	"github.com/ocx/flashfreeze/internal/errs"
	"github.com/ocx/flashfreeze/internal/eventlog"
	"github.com/ocx/flashfreeze/internal/judge"
	"github.com/ocx/flashfreeze/internal/merkle"
	"github.com/ocx/flashfreeze/internal/shardsign"
	"github.com/ocx/flashfreeze/internal/trust"
)

// Manifest mirrors the fields shard.Write emits into manifest.json.
type Manifest struct {
	Spec        string `json:"spec"`
	Created     string `json:"created"`
	CapsuleHash string `json:"capsule_hash"`
	MerkleRoot  string `json:"merkle_root"`
	Publisher   string `json:"publisher"`
}

// Result is the outcome of a verification run. Conformant requires both
// Pass and an empty Warnings slice, per spec §4.8 step 5's zero-warning
// requirement.
type Result struct {
	Pass     bool
	Warnings []string
}

// Conformant reports whether the run passed with zero warnings.
func (r Result) Conformant() bool { return r.Pass && len(r.Warnings) == 0 }

// Config carries the judge window sizing needed to re-run cross-validation
// when a capsule path is supplied.
type Config struct {
	Binrec binrec.Config
	Judge  judge.Config
}

// Verify runs the full inverse pass against shardDir. If capsuleDir is
// non-empty, it additionally re-derives the capsule hash, re-scans
// binaries, re-runs the judge, and byte-compares every span.
func Verify(shardDir, capsuleDir string, cfg Config) (Result, error) {
	var res Result

	manifestPath := filepath.Join(shardDir, "manifest.json")
	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return res, errs.Wrap(errs.ManifestInvalid, manifestPath, 0, "reading manifest.json", err)
	}

	var m Manifest
	if err := json.Unmarshal(manifestBytes, &m); err != nil {
		return res, errs.Wrap(errs.ManifestInvalid, manifestPath, 0, "manifest.json is not valid JSON", err)
	}

	pubKeyBytes, err := os.ReadFile(filepath.Join(shardDir, "sig", "publisher.pub"))
	if err != nil {
		return res, errs.Wrap(errs.IOError, filepath.Join(shardDir, "sig", "publisher.pub"), 0, "reading publisher key", err)
	}

	store, err := trust.LoadStore(filepath.Join(shardDir, "governance"))
	if err != nil {
		return res, err
	}
	if !store.Allows(hex.EncodeToString(pubKeyBytes)) {
		return res, errs.New(errs.UntrustedPublisher, "publisher key is not present in trust_store.allowed_keys")
	}

	sigBytes, err := os.ReadFile(filepath.Join(shardDir, "sig", "manifest.sig"))
	if err != nil {
		return res, errs.Wrap(errs.IOError, filepath.Join(shardDir, "sig", "manifest.sig"), 0, "reading manifest signature", err)
	}
	if err := shardsign.Verify(pubKeyBytes, manifestBytes, sigBytes); err != nil {
		return res, err
	}

	recomputedRoot, err := recomputeMerkleRoot(shardDir)
	if err != nil {
		return res, err
	}
	wantRoot, err := hex.DecodeString(m.MerkleRoot)
	if err != nil || len(wantRoot) != 32 {
		return res, errs.At(errs.ManifestInvalid, manifestPath, 0, "manifest.merkle_root is not a valid hex-encoded 32-byte hash")
	}
	var wantRootArr [32]byte
	copy(wantRootArr[:], wantRoot)
	if recomputedRoot != wantRootArr {
		return res, errs.New(errs.MerkleMismatch, "recomputed merkle root does not match manifest.merkle_root")
	}

	if capsuleDir != "" {
		if err := verifyAgainstCapsule(shardDir, capsuleDir, m, cfg); err != nil {
			return res, err
		}
	}

	res.Pass = true
	return res, nil
}

func verifyAgainstCapsule(shardDir, capsuleDir string, m Manifest, cfg Config) error {
	caps, err := capsule.Open(capsuleDir)
	if err != nil {
		return err
	}

	sourceHash := caps.SourceHash()
	if hex.EncodeToString(sourceHash[:]) != m.CapsuleHash {
		return errs.New(errs.ManifestInvalid, "manifest.capsule_hash does not match the supplied capsule's events.jsonl")
	}

	var latentRows, residualRows []binrec.Record
	if r, ok, err := caps.OpenLatents(); err != nil {
		return err
	} else if ok {
		defer r.Close()
		latentRows, err = binrec.ScanLatents(r, cfg.Binrec)
		if err != nil {
			return err
		}
	}
	if r, ok, err := caps.OpenResiduals(); err != nil {
		return err
	} else if ok {
		defer r.Close()
		residualRows, err = binrec.ScanResiduals(r, cfg.Binrec)
		if err != nil {
			return err
		}
	}

	var events []eventlog.Event
	var spans []eventlog.Span
	if err := eventlog.Scan(caps.Events(), func(ev eventlog.Event, sp eventlog.Span) error {
		events = append(events, ev)
		spans = append(spans, sp)
		return nil
	}); err != nil {
		return err
	}

	residualsSize, err := caps.ResidualsSize()
	if err != nil {
		return err
	}
	if _, _, err := judge.Run(events, latentRows, residualRows, cfg.Judge, residualsSize); err != nil {
		return err
	}

	spansPath := filepath.Join(shardDir, "evidence", "spans.parquet")
	spansData, err := os.ReadFile(spansPath)
	if err != nil {
		return errs.Wrap(errs.IOError, spansPath, 0, "reading evidence/spans.parquet", err)
	}
	_, spanRows, err := columnar.DecodeRows(spansData)
	if err != nil {
		return err
	}
	if len(spanRows) != len(spans) {
		return errs.New(errs.InvalidInput, "evidence/spans.parquet row count does not match the capsule's event count")
	}

	// graph.Build sorts spans lexicographically by span_id (spec §4.6), so
	// the stored rows are not in file order; index by byte range instead
	// of assuming spanRows[i] corresponds to spans[i].
	storedByRange := make(map[eventlog.Span]string, len(spanRows))
	for _, row := range spanRows {
		byteStart, _ := row[2].(int64)
		byteEnd, _ := row[3].(int64)
		text, _ := row[4].(string)
		storedByRange[eventlog.Span{Start: byteStart, End: byteEnd}] = text
	}

	eventBytes := caps.Events()
	for _, sp := range spans {
		storedText, ok := storedByRange[sp]
		if !ok {
			return errs.New(errs.InvalidInput, "evidence/spans.parquet has no row for a byte range the capsule reproduces")
		}
		fresh := eventBytes[sp.Start:sp.End]
		if storedText != string(fresh) {
			return errs.New(errs.InvalidInput, "span byte range does not reproduce the stored evidence text exactly")
		}
	}

	return nil
}

func recomputeMerkleRoot(shardDir string) ([32]byte, error) {
	var files []merkle.File
	err := filepath.Walk(shardDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(shardDir, path)
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
		return [32]byte{}, errs.Wrap(errs.IOError, shardDir, 0, "walking shard tree for merkle root", err)
	}
	return merkle.Build(files).Root(), nil
}
