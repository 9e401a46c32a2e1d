// Package judge implements the cross-validator (C5, spec §4.5): it joins
// the narrative event stream against the two binary record sequences by
// frame_id and asserts the latent-coverage, residual-window, and
// safe-run invariants. The event log is narrative and never trusted on
// its own; the judge always scans disk (binrec's output).
package judge

import (
	"sort"

	"github.com/ocx/flashfreeze/internal/binrec"
	"github.com/ocx/flashfreeze/internal/errs"
	"github.com/ocx/flashfreeze/internal/eventlog"
)

// StreamKind distinguishes the two binary side-channels in the joined
// streams row-set (spec §3).
type StreamKind string

const (
	StreamLatents   StreamKind = "latents"
	StreamResiduals StreamKind = "residuals"
)

// StreamRow is one row of the streams table.
type StreamRow struct {
	FrameID     uint64
	Stream      StreamKind
	File        string
	Offset      int64
	Length      int64
	Status      binrec.Status
	ContentHash string
}

// Report summarizes a judge run for operators and the telemetry layer
// (SPEC_FULL §4.5): resync counts, missing-frame counts, and per-window
// residual coverage. Not part of the Non-goals (observability is an
// ambient concern carried regardless of the umbrella spec's silence).
type Report struct {
	LatentResyncCount   int
	ResidualResyncCount int
	LatentMissingCount  int
	ResidualMissingCount int
	SafetyWindows       []WindowCoverage
}

// WindowCoverage reports how completely a single safety_trigger's
// pre/post window was covered by residual rows.
type WindowCoverage struct {
	TriggerFrameID uint64
	WindowStart    uint64
	WindowEnd      uint64
	MissingFrames  []uint64
}

// Config carries the judge's window sizing, deployment-configured per
// spec §9's open question.
type Config struct {
	PreWindow  uint64
	PostWindow uint64
	// ElevateResidualGaps promotes an in-window missing residual frame
	// to a fatal error, per local_policy.json (SPEC_FULL §5).
	ElevateResidualGaps bool
}

// Run joins events against latentRows/residualRows by frame_id and
// returns the streams row-set plus a summary Report. residualsSize (0
// when cam_residuals.bin is absent) supports the safe-run invariant
// without requiring the judge to stat the capsule itself.
func Run(events []eventlog.Event, latentRows, residualRows []binrec.Record, cfg Config, residualsSize int64) ([]StreamRow, Report, error) {
	var report Report

	latentByFrame := indexByFrame(latentRows)
	residualByFrame := indexByFrame(residualRows)

	var triggers []uint64
	for _, ev := range events {
		switch ev.Kind {
		case eventlog.KindObservation:
			rec, ok := latentByFrame[ev.FrameID]
			if !ok || (rec.Status != binrec.StatusOK && rec.Status != binrec.StatusResynced) {
				return nil, report, errs.New(errs.LatentMissing,
					"no ok/resynced latent row for observation frame_id")
			}
		case eventlog.KindSafetyTrigger:

			triggers = append(triggers, ev.FrameID)
		}
	}

	// Safe-run invariant (spec §4.5): no safety_trigger events means the
	// residual stream must be absent or empty.
	if len(triggers) == 0 {
		if residualsSize != 0 {
			return nil, report, errs.New(errs.UnexpectedResidual,
				"cam_residuals.bin is non-empty but no safety_trigger events occurred")
		}
	}

	allowed := make(map[uint64]bool, len(triggers)*int(cfg.PreWindow+cfg.PostWindow+1))
	for _, f := range triggers {
		start := saturatingSub(f, cfg.PreWindow)
		end := f + cfg.PostWindow

		var missing []uint64
		for frame := start; frame <= end; frame++ {
			allowed[frame] = true
			if rec, ok := residualByFrame[frame]; !ok || rec.Status == binrec.StatusMissing {
				missing = append(missing, frame)
			}
		}
		if len(missing) > 0 && cfg.ElevateResidualGaps {
			return nil, report, errs.New(errs.UnexpectedResidual,
				"residual window has missing frames and local policy elevates this to fatal")
		}
		report.SafetyWindows = append(report.SafetyWindows, WindowCoverage{
			TriggerFrameID: f,
			WindowStart:    start,
			WindowEnd:      end,
			MissingFrames:  missing,
		})
	}

	for frame := range residualByFrame {
		if !allowed[frame] {
			return nil, report, errs.New(errs.UnexpectedResidual,
				"residual row present outside any safety_trigger window")
		}
	}

	var rows []StreamRow
	for _, rec := range latentRows {
		if rec.Status == binrec.StatusResynced {
			report.LatentResyncCount++
		}
		if rec.Status == binrec.StatusMissing {
			report.LatentMissingCount++
		}
		rows = append(rows, toRow(rec, StreamLatents, "cam_latents.bin"))
	}
	for _, rec := range residualRows {
		if rec.Status == binrec.StatusResynced {
			report.ResidualResyncCount++
		}
		if rec.Status == binrec.StatusMissing {
			report.ResidualMissingCount++
		}
		rows = append(rows, toRow(rec, StreamResiduals, "cam_residuals.bin"))
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Stream != rows[j].Stream {
			return rows[i].Stream < rows[j].Stream
		}
		return rows[i].FrameID < rows[j].FrameID
	})

	return rows, report, nil
}

func toRow(rec binrec.Record, kind StreamKind, file string) StreamRow {
	return StreamRow{
		FrameID:     rec.FrameID,
		Stream:      kind,
		File:        file,
		Offset:      rec.Offset,
		Length:      rec.Length,
		Status:      rec.Status,
		ContentHash: rec.ContentHash,
	}
}

func indexByFrame(rows []binrec.Record) map[uint64]binrec.Record {
	m := make(map[uint64]binrec.Record, len(rows))
	for _, r := range rows {
		m[r.FrameID] = r
	}
	return m
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
