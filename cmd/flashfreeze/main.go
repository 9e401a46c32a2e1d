package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/flashfreeze/internal/config"
	"github.com/ocx/flashfreeze/internal/errs"
	"github.com/ocx/flashfreeze/internal/pipeline"
	"github.com/ocx/flashfreeze/internal/shardsign"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "compile":
		cmdCompile(os.Args[2:])
	case "verify":
		cmdVerify(os.Args[2:])
	case "version":
		fmt.Printf("flashfreeze v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Flash-Freeze evidence compiler v` + version + `

Usage: flashfreeze <command> [flags]

Commands:
  compile <capsule_dir> <shard_dir>   Compile a capsule into a signed shard
  verify  <shard_dir>                 Verify a shard's signature and Merkle root
  version                              Print version
  help                                  Show this help

Flags (compile):
  --config <path>        flashfreeze.yaml path (default: $FLASHFREEZE_CONFIG)
  --trust-dir <dir>       governance directory to embed (default: $FLASHFREEZE_TRUST_DIR)
  --key-file <path>       hex-encoded Ed25519 private key (default: $FLASHFREEZE_KEY_FILE,
                          generated and persisted there on first use if absent)
  --metrics-addr <addr>   expose Prometheus metrics on addr, e.g. :9090

Flags (verify):
  --config <path>         flashfreeze.yaml path
  --capsule <dir>         capsule directory to cross-validate against
  --metrics-addr <addr>   expose Prometheus metrics on addr

Environment:
  FLASHFREEZE_CONFIG      default --config value
  FLASHFREEZE_TRUST_DIR   default --trust-dir value
  FLASHFREEZE_KEY_FILE    default --key-file value (default: ./flashfreeze.key)

Examples:
  flashfreeze compile ./capsule-001 ./shard-001 --trust-dir ./governance
  flashfreeze verify ./shard-001 --capsule ./capsule-001`)
}

func cmdCompile(args []string) {
	var configPath, trustDir, keyFile, metricsAddr string
	var capsuleDir, shardOut string
	positional := parseFlags(args, map[string]*string{
		"--config":       &configPath,
		"--trust-dir":    &trustDir,
		"--key-file":     &keyFile,
		"--metrics-addr": &metricsAddr,
	})
	if len(positional) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: flashfreeze compile <capsule_dir> <shard_dir> [flags]")
		os.Exit(1)
	}
	capsuleDir, shardOut = positional[0], positional[1]

	if configPath == "" {
		configPath = os.Getenv("FLASHFREEZE_CONFIG")
	}
	if trustDir == "" {
		trustDir = os.Getenv("FLASHFREEZE_TRUST_DIR")
	}
	if keyFile == "" {
		keyFile = getEnv("FLASHFREEZE_KEY_FILE", "flashfreeze.key")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		exitWithErr(err)
	}
	if metricsAddr == "" {
		metricsAddr = cfg.Telemetry.MetricsAddr
	}

	signer, err := loadOrCreateSigner(keyFile)
	if err != nil {
		exitWithErr(err)
	}

	ctx := pipeline.NewContext(cfg)
	maybeServeMetrics(metricsAddr, ctx.Metrics.Registry)
	res, err := ctx.Compile(capsuleDir, shardOut, signer, trustDir)
	if err != nil {
		exitWithErr(err)
	}

	fmt.Printf("compiled %d frames -> %s (run=%s, latent_resync=%d, residual_resync=%d)\n",
		res.FrameCount, res.ShardDir, res.RunID, res.Report.LatentResyncCount, res.Report.ResidualResyncCount)
}

func cmdVerify(args []string) {
	var configPath, capsuleDir, metricsAddr string
	var shardDir string
	positional := parseFlags(args, map[string]*string{
		"--config":       &configPath,
		"--capsule":      &capsuleDir,
		"--metrics-addr": &metricsAddr,
	})
	if len(positional) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: flashfreeze verify <shard_dir> [--capsule <dir>] [flags]")
		os.Exit(1)
	}
	shardDir = positional[0]

	if configPath == "" {
		configPath = os.Getenv("FLASHFREEZE_CONFIG")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		exitWithErr(err)
	}
	if metricsAddr == "" {
		metricsAddr = cfg.Telemetry.MetricsAddr
	}

	ctx := pipeline.NewContext(cfg)
	maybeServeMetrics(metricsAddr, ctx.Metrics.Registry)
	res, err := ctx.Verify(shardDir, capsuleDir)
	if err != nil {
		exitWithErr(err)
	}

	if res.Conformant() {
		fmt.Println("PASS: shard is conformant")
		return
	}
	fmt.Printf("FAIL: pass=%v warnings=%v\n", res.Pass, res.Warnings)
	os.Exit(1)
}

// parseFlags scans args for the --name/value pairs named in flags,
// filling their targets, and returns whatever's left as positional
// arguments in order.
func parseFlags(args []string, flags map[string]*string) []string {
	var positional []string
	for i := 0; i < len(args); i++ {
		if target, ok := flags[args[i]]; ok {
			i++
			if i < len(args) {
				*target = args[i]
			}
			continue
		}
		positional = append(positional, args[i])
	}
	return positional
}

// loadOrCreateSigner loads a hex-encoded Ed25519 private key from path,
// generating and persisting a fresh one on first use so repeated runs
// against the same capsule tree keep a stable publisher identity.
func loadOrCreateSigner(path string) (*shardsign.Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		raw, decodeErr := hex.DecodeString(string(trimNewline(data)))
		if decodeErr != nil || len(raw) != ed25519.PrivateKeySize {
			return nil, errs.At(errs.InvalidInput, path, 0, "signing key file is not a valid hex-encoded Ed25519 private key")
		}
		return shardsign.FromPrivateKey(ed25519.PrivateKey(raw)), nil
	}
	if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.IOError, path, 0, "reading signing key file", err)
	}

	signer, genErr := shardsign.Generate()
	if genErr != nil {
		return nil, errs.Wrap(errs.IOError, path, 0, "generating Ed25519 signing key", genErr)
	}
	if dir := filepath.Dir(path); dir != "." {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, errs.Wrap(errs.IOError, dir, 0, "creating signing key directory", mkErr)
		}
	}
	if writeErr := os.WriteFile(path, []byte(signer.PrivateKeyHex()+"\n"), 0o600); writeErr != nil {
		return nil, errs.Wrap(errs.IOError, path, 0, "persisting generated signing key", writeErr)
	}
	fmt.Fprintf(os.Stderr, "generated new signing key at %s (publisher=%s)\n", path, signer.PublicKeyHex())
	return signer, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func maybeServeMetrics(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			fmt.Fprintf(os.Stderr, "metrics server stopped: %v\n", err)
		}
	}()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func exitWithErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if fe, ok := err.(*errs.Error); ok {
		os.Exit(errs.ExitCode(fe.Kind))
	}
	os.Exit(1)
}
