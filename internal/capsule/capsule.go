// Package capsule opens a Flash-Freeze capsule directory and exposes its
// event log bytes and binary side-channels, per spec §4.2.
package capsule

import (
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ocx/flashfreeze/internal/errs"
)

const (
	metaFile      = "meta.json"
	eventsFile    = "events.jsonl"
	latentsFile   = "cam_latents.bin"
	residualsFile = "cam_residuals.bin"

	requiredEncoding = "utf-8"
	requiredNewline  = "\n"
)

// Meta mirrors meta.json's required keys (spec §3). Unknown fields are
// ignored, matching encoding/json's default decode behavior.
type Meta struct {
	RobotID         string `json:"robot_id"`
	SessionID       string `json:"session_id"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at"`
	EventLogEncoding string `json:"event_log_encoding"`
	EventLogNewline  string `json:"event_log_newline"`
}

// Capsule is a read-only view over a capsule directory.
type Capsule struct {
	dir    string
	Meta   Meta
	events []byte

	hashOnce sync.Once
	hash     [32]byte
}

// Open reads meta.json and events.jsonl from dir and validates the
// required encoding/newline fields. Binary streams are not opened here.
func Open(dir string) (*Capsule, error) {
	metaPath := filepath.Join(dir, metaFile)
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.At(errs.MissingMeta, metaPath, 0, "meta.json not found")
		}
		return nil, errs.Wrap(errs.IOError, metaPath, 0, "reading meta.json", err)
	}

	var m Meta
	if err := json.Unmarshal(metaBytes, &m); err != nil {
		return nil, errs.Wrap(errs.MissingMeta, metaPath, 0, "meta.json is not valid JSON", err)
	}
	if m.EventLogEncoding != requiredEncoding {
		return nil, errs.At(errs.UnsupportedEncoding, metaPath, 0,
			"event_log_encoding must be \"utf-8\", got "+m.EventLogEncoding)
	}
	if m.EventLogNewline != requiredNewline {
		return nil, errs.At(errs.UnsupportedEncoding, metaPath, 0,
			"event_log_newline must be a literal LF")
	}

	eventsPath := filepath.Join(dir, eventsFile)
	eventBytes, err := os.ReadFile(eventsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.At(errs.MissingEvents, eventsPath, 0, "events.jsonl not found")
		}
		return nil, errs.Wrap(errs.IOError, eventsPath, 0, "reading events.jsonl", err)
	}

	return &Capsule{dir: dir, Meta: m, events: eventBytes}, nil
}

// Events returns the raw, immutable bytes of events.jsonl.
func (c *Capsule) Events() []byte { return c.events }

// SourceHash returns SHA-256(events.jsonl), memoized on first call.
func (c *Capsule) SourceHash() [32]byte {
	c.hashOnce.Do(func() {
		c.hash = sha256.Sum256(c.events)
	})
	return c.hash
}

// OpenLatents opens cam_latents.bin for reading. The second return value
// is false when the file does not exist.
func (c *Capsule) OpenLatents() (io.ReadSeekCloser, bool, error) {
	return c.openStream(latentsFile)
}

// OpenResiduals opens cam_residuals.bin for reading. The second return
// value is false when the file does not exist; absence is not an error,
// residuals are optional by construction (spec §3).
func (c *Capsule) OpenResiduals() (io.ReadSeekCloser, bool, error) {
	return c.openStream(residualsFile)
}

func (c *Capsule) openStream(name string) (io.ReadSeekCloser, bool, error) {
	path := filepath.Join(c.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errs.Wrap(errs.IOError, path, 0, "opening "+name, err)
	}
	return f, true, nil
}

// ResidualsSize reports the size in bytes of cam_residuals.bin, or 0 if
// the file is absent. Used by the safe-run invariant (spec §4.5) without
// requiring a full scan.
func (c *Capsule) ResidualsSize() (int64, error) {
	path := filepath.Join(c.dir, residualsFile)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.IOError, path, 0, "stat cam_residuals.bin", err)
	}
	return info.Size(), nil
}

// Dir returns the capsule's root directory.
func (c *Capsule) Dir() string { return c.dir }
