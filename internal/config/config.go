// Package config loads flashfreeze.yaml and applies environment
// overrides, following the same YAML-plus-env-override split the
// teacher's internal/config package uses for its service configuration.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/ocx/flashfreeze/internal/errs"
)

// Config is the full flashfreeze.yaml document.
type Config struct {
	Binrec    BinrecConfig    `yaml:"binrec"`
	Judge     JudgeConfig     `yaml:"judge"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// BinrecConfig carries the binary engine's bounds (spec §4.4).
type BinrecConfig struct {
	LatentPayloadLen uint32 `yaml:"latent_payload_len"`
	ResidualMaxLen   uint32 `yaml:"residual_max_len"`
	ResyncWindow     int64  `yaml:"resync_window"`
}

// JudgeConfig carries the cross-validator's window sizing (spec §9 open
// question: deployment-configured, not fixed by the spec).
type JudgeConfig struct {
	PreWindow           uint64 `yaml:"pre_window"`
	PostWindow          uint64 `yaml:"post_window"`
	ElevateResidualGaps bool   `yaml:"elevate_residual_gaps"`
}

// PipelineConfig carries orchestration-level knobs (spec §5/§6).
type PipelineConfig struct {
	Workers int `yaml:"workers"`
}

// TelemetryConfig controls the optional metrics endpoint (SPEC_FULL §7.2).
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration this repository ships with absent an
// override file: a 5/5 pre/post window (spec §9), a single worker (spec
// §5's single-threaded default), and a 64 MiB resync window (spec §4.4's
// example bound).
func Default() Config {
	return Config{
		Binrec: BinrecConfig{
			LatentPayloadLen: 256,
			ResidualMaxLen:   16 * 1024 * 1024,
			ResyncWindow:     64 * 1024 * 1024,
		},
		Judge: JudgeConfig{
			PreWindow:  5,
			PostWindow: 5,
		},
		Pipeline: PipelineConfig{
			Workers: 1,
		},
	}
}

// Load reads a flashfreeze.yaml file at path, starting from Default()
// and overlaying whatever keys the file sets, then applies environment
// overrides (.env loaded first via godotenv, matching cmd/api/main.go's
// startup order in the teacher).
func Load(path string) (Config, error) {
	_ = godotenv.Load() // best-effort; absent .env is not an error

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, errs.Wrap(errs.IOError, path, 0, "reading config file", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errs.Wrap(errs.InvalidInput, path, 0, "config file is not valid YAML", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := getEnvUint32("FLASHFREEZE_LATENT_PAYLOAD_LEN", 0); v > 0 {
		c.Binrec.LatentPayloadLen = v
	}
	if v := getEnvUint32("FLASHFREEZE_RESIDUAL_MAX_LEN", 0); v > 0 {
		c.Binrec.ResidualMaxLen = v
	}
	if v := getEnvInt64("FLASHFREEZE_RESYNC_WINDOW", 0); v > 0 {
		c.Binrec.ResyncWindow = v
	}
	if v := getEnvUint64("FLASHFREEZE_PRE_WINDOW", 0); v > 0 {
		c.Judge.PreWindow = v
	}
	if v := getEnvUint64("FLASHFREEZE_POST_WINDOW", 0); v > 0 {
		c.Judge.PostWindow = v
	}
	c.Judge.ElevateResidualGaps = getEnvBool("FLASHFREEZE_ELEVATE_RESIDUAL_GAPS", c.Judge.ElevateResidualGaps)
	if v := getEnvInt("FLASHFREEZE_WORKERS", 0); v > 0 {
		c.Pipeline.Workers = v
	}
	c.Telemetry.MetricsAddr = getEnv("FLASHFREEZE_METRICS_ADDR", c.Telemetry.MetricsAddr)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvUint32(key string, fallback uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return fallback
}

func getEnvUint64(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
