// Package pipeline orchestrates the compile and verify passes end to end
// (spec §5/§6): capsule → events → binaries → judge → graph → shard for
// compile, and the inverse for verify. A single Context (clock, logger,
// metrics, config) holds the ambient dependencies, and each component
// receives the pieces it needs as explicit arguments rather than relying
// on package-level state, the way the teacher wires
// EvidenceVault/SignatureVerifier/CryptoProvider from explicit config.
package pipeline

import (
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/flashfreeze/internal/binrec"
	"github.com/ocx/flashfreeze/internal/capsule"
	"github.com/ocx/flashfreeze/internal/config"
	"github.com/ocx/flashfreeze/internal/eventlog"
	"github.com/ocx/flashfreeze/internal/graph"
	"github.com/ocx/flashfreeze/internal/judge"
	"github.com/ocx/flashfreeze/internal/shard"
	"github.com/ocx/flashfreeze/internal/shardsign"
	"github.com/ocx/flashfreeze/internal/telemetry"
	"github.com/ocx/flashfreeze/internal/trust"
	"github.com/ocx/flashfreeze/internal/verify"
)

// Context bundles the pipeline's ambient dependencies. None of its fields
// are package-level globals; every component that needs one receives it
// (or the piece of it it uses) as an explicit argument.
type Context struct {
	Clock   func() time.Time
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Config  config.Config
}

// NewContext builds a Context with a real-time clock, a JSON slog logger
// to stderr, and a freshly registered Metrics set.
func NewContext(cfg config.Config) *Context {
	return &Context{
		Clock:   time.Now,
		Logger:  slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		Metrics: telemetry.NewMetrics(),
		Config:  cfg,
	}
}

// CompileResult summarizes a successful compile run for the CLI.
type CompileResult struct {
	RunID        string
	ShardDir     string
	FrameCount   int
	Report       judge.Report
}

// Compile runs C2 through C7 against capsuleDir and writes the finished
// shard tree to shardOut, signing the manifest with signer and embedding
// the governance files found in trustDir.
func (c *Context) Compile(capsuleDir, shardOut string, signer *shardsign.Signer, trustDir string) (CompileResult, error) {
	runID := uuid.NewString()
	log := c.Logger.With("run_id", runID, "op", "compile", "capsule_dir", capsuleDir)
	start := c.Clock()

	res, err := c.compile(log, capsuleDir, shardOut, signer, trustDir)
	res.RunID = runID

	elapsed := c.Clock().Sub(start).Seconds()
	c.Metrics.RecordCompile(err == nil, elapsed)
	if err != nil {
		log.Error("compile failed", "error", err, "elapsed_seconds", elapsed)
		return res, err
	}
	log.Info("compile succeeded", "elapsed_seconds", elapsed, "frame_count", res.FrameCount,
		"latent_resync", res.Report.LatentResyncCount, "residual_resync", res.Report.ResidualResyncCount)
	return res, nil
}

func (c *Context) compile(log *slog.Logger, capsuleDir, shardOut string, signer *shardsign.Signer, trustDir string) (CompileResult, error) {
	var res CompileResult

	caps, err := capsule.Open(capsuleDir)
	if err != nil {
		return res, err
	}

	var events []eventlog.Event
	var spans []eventlog.Span
	if err := eventlog.Scan(caps.Events(), func(ev eventlog.Event, sp eventlog.Span) error {
		events = append(events, ev)
		spans = append(spans, sp)
		return nil
	}); err != nil {
		return res, err
	}
	res.FrameCount = len(events)

	var latentRows, residualRows []binrec.Record
	if r, ok, err := caps.OpenLatents(); err != nil {
		return res, err
	} else if ok {
		defer r.Close()
		latentRows, err = binrec.ScanLatents(r, c.Config.Binrec)
		if err != nil {
			return res, err
		}
	}
	if r, ok, err := caps.OpenResiduals(); err != nil {
		return res, err
	} else if ok {
		defer r.Close()
		residualRows, err = binrec.ScanResiduals(r, c.Config.Binrec)
		if err != nil {
			return res, err
		}
	}

	residualsSize, err := caps.ResidualsSize()
	if err != nil {
		return res, err
	}

	judgeCfg := judge.Config{
		PreWindow:           c.Config.Judge.PreWindow,
		PostWindow:          c.Config.Judge.PostWindow,
		ElevateResidualGaps: c.Config.Judge.ElevateResidualGaps,
	}
	policy, err := trust.LoadPolicy(trustDir)
	if err != nil {
		return res, err
	}
	judgeCfg.ElevateResidualGaps = judgeCfg.ElevateResidualGaps || policy.ElevateResidualGaps

	streamRows, report, err := judge.Run(events, latentRows, residualRows, judgeCfg, residualsSize)
	if err != nil {
		return res, err
	}
	res.Report = report
	c.Metrics.RecordJudgeReport(report.LatentResyncCount, report.ResidualResyncCount,
		report.LatentMissingCount, report.ResidualMissingCount)
	if report.LatentResyncCount > 0 || report.ResidualResyncCount > 0 {
		log.Warn("resync occurred during scan", "latent_resync", report.LatentResyncCount,
			"residual_resync", report.ResidualResyncCount)
	}

	sourceHash := caps.SourceHash()
	sourceHashHex := hexString(sourceHash[:])
	g := graph.Build(events, spans, caps.Events(), sourceHashHex)

	in := shard.Input{
		EventsBytes:   caps.Events(),
		Graph:         g,
		StreamRows:    streamRows,
		Signer:        signer,
		Clock:         c.Clock,
		TrustStoreDir: trustDir,
	}
	if err := shard.Write(shardOut, in); err != nil {
		return res, err
	}
	res.ShardDir = shardOut

	return res, nil
}

// Verify runs the full inverse pass against shardDir, optionally
// re-deriving and cross-checking a capsule at capsuleDir.
func (c *Context) Verify(shardDir, capsuleDir string) (verify.Result, error) {
	runID := uuid.NewString()
	log := c.Logger.With("run_id", runID, "op", "verify", "shard_dir", shardDir)
	start := c.Clock()

	cfg := verify.Config{
		Binrec: c.Config.Binrec,
		Judge: judge.Config{
			PreWindow:           c.Config.Judge.PreWindow,
			PostWindow:          c.Config.Judge.PostWindow,
			ElevateResidualGaps: c.Config.Judge.ElevateResidualGaps,
		},
	}

	res, err := verify.Verify(shardDir, capsuleDir, cfg)
	elapsed := c.Clock().Sub(start).Seconds()
	c.Metrics.RecordVerify(err == nil && res.Conformant(), elapsed)
	if err != nil {
		log.Error("verify failed", "error", err, "elapsed_seconds", elapsed)
		return res, err
	}
	log.Info("verify completed", "elapsed_seconds", elapsed, "pass", res.Pass, "warnings", len(res.Warnings))
	return res, nil
}

func hexString(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0x0F]
	}
	return string(out)
}
