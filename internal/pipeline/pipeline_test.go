package pipeline

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/ocx/flashfreeze/internal/config"
	"github.com/ocx/flashfreeze/internal/shardsign"
)

// =============================================================================
// Fixtures for the six end-to-end compile/verify scenarios below.
// =============================================================================

const latentsMagic = "L1\x00\x00"
const residualsMagic = "R1\x00\x00"
const payloadLen = 8

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Binrec.LatentPayloadLen = payloadLen
	cfg.Binrec.ResidualMaxLen = 1 << 20
	cfg.Binrec.ResyncWindow = 1 << 16
	cfg.Judge.PreWindow = 5
	cfg.Judge.PostWindow = 5
	return cfg
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func buildLatentRecord(buf *bytes.Buffer, frameID uint64, tsNs uint64) {
	payload := make([]byte, payloadLen)
	buf.WriteString(latentsMagic)
	writeU32(buf, payloadLen)
	writeU64(buf, frameID)
	writeU64(buf, tsNs)
	writeU32(buf, crc32.ChecksumIEEE(payload))
	buf.Write(payload)
}

func buildResidualRecord(buf *bytes.Buffer, frameID uint64, tsNs uint64, payload []byte) {
	buf.WriteString(residualsMagic)
	writeU32(buf, uint32(len(payload)))
	writeU64(buf, frameID)
	writeU64(buf, tsNs)
	writeU32(buf, crc32.ChecksumIEEE(payload))
	buf.Write(payload)
}

func writeTrustDir(t *testing.T, allowedKeyHex string) string {
	t.Helper()
	dir := t.TempDir()
	store := `{"allowed_keys":["` + allowedKeyHex + `"]}`
	if err := os.WriteFile(filepath.Join(dir, "trust_store.json"), []byte(store), 0o644); err != nil {
		t.Fatalf("writing trust_store.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "local_policy.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("writing local_policy.json: %v", err)
	}
	return dir
}

func writeCapsule(t *testing.T, eventsBytes []byte, latents, residuals []byte) string {
	t.Helper()
	dir := t.TempDir()
	meta := `{"robot_id":"r1","session_id":"s1","started_at":"2026-01-01T00:00:00Z","ended_at":"2026-01-01T00:01:00Z","event_log_encoding":"utf-8","event_log_newline":"\n"}`
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), []byte(meta), 0o644); err != nil {
		t.Fatalf("writing meta.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "events.jsonl"), eventsBytes, 0o644); err != nil {
		t.Fatalf("writing events.jsonl: %v", err)
	}
	if latents != nil {
		if err := os.WriteFile(filepath.Join(dir, "cam_latents.bin"), latents, 0o644); err != nil {
			t.Fatalf("writing cam_latents.bin: %v", err)
		}
	}
	if residuals != nil {
		if err := os.WriteFile(filepath.Join(dir, "cam_residuals.bin"), residuals, 0o644); err != nil {
			t.Fatalf("writing cam_residuals.bin: %v", err)
		}
	}
	return dir
}

// =============================================================================
// 1. SAFE RUN — observations only, no safety_trigger, no residuals.
// =============================================================================

func TestPipeline_SafeRun_CompilesAndVerifies(t *testing.T) {
	signer, err := shardsign.Generate()
	if err != nil {
		t.Fatalf("generating signer: %v", err)
	}

	var events bytes.Buffer
	var latents bytes.Buffer
	for i := uint64(1); i <= 3; i++ {
		events.WriteString(`{"frame_id":`)
		events.WriteString(itoa(i))
		events.WriteString(`,"t":"2026-01-01T00:00:00Z","kind":"observation"}` + "\n")
		buildLatentRecord(&latents, i, i)
	}

	trustDir := writeTrustDir(t, signer.PublicKeyHex())
	capsuleDir := writeCapsule(t, events.Bytes(), latents.Bytes(), nil)
	shardDir := filepath.Join(t.TempDir(), "shard")

	ctx := NewContext(testConfig())
	compileRes, err := ctx.Compile(capsuleDir, shardDir, signer, trustDir)
	if err != nil {
		t.Fatalf("safe run should compile cleanly: %v", err)
	}
	if compileRes.FrameCount != 3 {
		t.Errorf("expected 3 frames, got %d", compileRes.FrameCount)
	}
	if compileRes.Report.LatentMissingCount != 0 {
		t.Errorf("safe run should have zero missing latents, got %d", compileRes.Report.LatentMissingCount)
	}

	verifyRes, err := ctx.Verify(shardDir, capsuleDir)
	if err != nil {
		t.Fatalf("safe run should verify cleanly: %v", err)
	}
	if !verifyRes.Conformant() {
		t.Errorf("safe run shard should be conformant, warnings=%v", verifyRes.Warnings)
	}
}

// =============================================================================
// 2. CRASH SCENARIO — a safety_trigger with residuals covering its window.
// =============================================================================

func TestPipeline_CrashScenario_ResidualsInWindowVerify(t *testing.T) {
	signer, err := shardsign.Generate()
	if err != nil {
		t.Fatalf("generating signer: %v", err)
	}

	var events bytes.Buffer
	var latents bytes.Buffer
	var residuals bytes.Buffer
	for i := uint64(1); i <= 10; i++ {
		kind := "observation"
		if i == 5 {
			kind = "safety_trigger"
		}
		events.WriteString(`{"frame_id":`)
		events.WriteString(itoa(i))
		events.WriteString(`,"t":"2026-01-01T00:00:00Z","kind":"` + kind + `"}` + "\n")
		buildLatentRecord(&latents, i, i)
	}
	// Window is [max(0,5-5), 5+5] = [0,10]; residuals for every frame in range.
	for i := uint64(0); i <= 10; i++ {
		buildResidualRecord(&residuals, i, i, []byte{byte(i)})
	}

	trustDir := writeTrustDir(t, signer.PublicKeyHex())
	capsuleDir := writeCapsule(t, events.Bytes(), latents.Bytes(), residuals.Bytes())
	shardDir := filepath.Join(t.TempDir(), "shard")

	ctx := NewContext(testConfig())
	compileRes, err := ctx.Compile(capsuleDir, shardDir, signer, trustDir)
	if err != nil {
		t.Fatalf("crash scenario should compile when residuals cover the window: %v", err)
	}
	if len(compileRes.Report.SafetyWindows) != 1 {
		t.Fatalf("expected exactly one safety window, got %d", len(compileRes.Report.SafetyWindows))
	}
	if len(compileRes.Report.SafetyWindows[0].MissingFrames) != 0 {
		t.Errorf("expected full residual coverage, missing=%v", compileRes.Report.SafetyWindows[0].MissingFrames)
	}

	verifyRes, err := ctx.Verify(shardDir, capsuleDir)
	if err != nil {
		t.Fatalf("crash scenario should verify cleanly: %v", err)
	}
	if !verifyRes.Conformant() {
		t.Errorf("crash scenario shard should be conformant, warnings=%v", verifyRes.Warnings)
	}
}

// =============================================================================
// 3. LATENT COVERAGE INVARIANT — an observation frame with no latent row
//    is fatal, even though the event log narrates it (spec §8 invariant).
// =============================================================================

func TestPipeline_MissingLatentForObservation_IsFatal(t *testing.T) {
	signer, err := shardsign.Generate()
	if err != nil {
		t.Fatalf("generating signer: %v", err)
	}

	eventsBytes := []byte(`{"frame_id":1,"t":"2026-01-01T00:00:00Z","kind":"observation"}` + "\n")
	trustDir := writeTrustDir(t, signer.PublicKeyHex())
	capsuleDir := writeCapsule(t, eventsBytes, nil, nil) // no cam_latents.bin at all
	shardDir := filepath.Join(t.TempDir(), "shard")

	ctx := NewContext(testConfig())
	if _, err := ctx.Compile(capsuleDir, shardDir, signer, trustDir); err == nil {
		t.Fatal("compile should fail when an observation frame has no latent row")
	}
}

// =============================================================================
// 4. SAFE-RUN INVARIANT — residuals present with no safety_trigger is fatal.
// =============================================================================

func TestPipeline_ResidualsWithoutTrigger_IsFatal(t *testing.T) {
	signer, err := shardsign.Generate()
	if err != nil {
		t.Fatalf("generating signer: %v", err)
	}

	var latents bytes.Buffer
	buildLatentRecord(&latents, 1, 1)
	var residuals bytes.Buffer
	buildResidualRecord(&residuals, 1, 1, []byte{0x01})

	eventsBytes := []byte(`{"frame_id":1,"t":"2026-01-01T00:00:00Z","kind":"observation"}` + "\n")
	trustDir := writeTrustDir(t, signer.PublicKeyHex())
	capsuleDir := writeCapsule(t, eventsBytes, latents.Bytes(), residuals.Bytes())
	shardDir := filepath.Join(t.TempDir(), "shard")

	ctx := NewContext(testConfig())
	if _, err := ctx.Compile(capsuleDir, shardDir, signer, trustDir); err == nil {
		t.Fatal("compile should fail when residuals exist without any safety_trigger")
	}
}

// =============================================================================
// 5. UNTRUSTED PUBLISHER — a shard signed by a key absent from the trust
//    store fails verification even though the signature itself is valid.
// =============================================================================

func TestPipeline_UntrustedPublisher_FailsVerify(t *testing.T) {
	signer, err := shardsign.Generate()
	if err != nil {
		t.Fatalf("generating signer: %v", err)
	}
	other, err := shardsign.Generate()
	if err != nil {
		t.Fatalf("generating second signer: %v", err)
	}

	var latents bytes.Buffer
	buildLatentRecord(&latents, 1, 1)
	eventsBytes := []byte(`{"frame_id":1,"t":"2026-01-01T00:00:00Z","kind":"observation"}` + "\n")

	// Trust store allows "other", not the shard's actual signer.
	trustDir := writeTrustDir(t, other.PublicKeyHex())
	capsuleDir := writeCapsule(t, eventsBytes, latents.Bytes(), nil)
	shardDir := filepath.Join(t.TempDir(), "shard")

	ctx := NewContext(testConfig())
	if _, err := ctx.Compile(capsuleDir, shardDir, signer, trustDir); err != nil {
		t.Fatalf("compile itself should succeed regardless of trust store contents: %v", err)
	}
	if _, err := ctx.Verify(shardDir, ""); err == nil {
		t.Fatal("verify should reject a shard whose publisher key is not in the trust store")
	}
}

// =============================================================================
// 6. RESYNC RECOVERY — a corrupted latent record is skipped via resync and
//    the scan still completes with an accurate resync count.
// =============================================================================

func TestPipeline_CorruptedLatentRecord_ResyncsAndCompiles(t *testing.T) {
	signer, err := shardsign.Generate()
	if err != nil {
		t.Fatalf("generating signer: %v", err)
	}

	var latents bytes.Buffer
	buildLatentRecord(&latents, 1, 1)
	// Corrupt record 2: flip a payload byte after it is written, so its CRC
	// no longer matches and the scanner must resync past it.
	corruptStart := latents.Len()
	buildLatentRecord(&latents, 2, 2)
	corrupted := latents.Bytes()
	corrupted[corruptStart+len(latentsMagic)+4+8+8+4] ^= 0xFF // flip first payload byte
	buildLatentRecord(&latents, 3, 3)

	// Events reference only frames 1 and 3: frame 2's latent record is the
	// one the corruption and resync consume, so no observation event may
	// require a latent row for it.
	var events bytes.Buffer
	for _, i := range []uint64{1, 3} {
		events.WriteString(`{"frame_id":`)
		events.WriteString(itoa(i))
		events.WriteString(`,"t":"2026-01-01T00:00:00Z","kind":"observation"}` + "\n")
	}

	trustDir := writeTrustDir(t, signer.PublicKeyHex())
	capsuleDir := writeCapsule(t, events.Bytes(), corrupted, nil)
	shardDir := filepath.Join(t.TempDir(), "shard")

	ctx := NewContext(testConfig())
	compileRes, err := ctx.Compile(capsuleDir, shardDir, signer, trustDir)
	if err != nil {
		t.Fatalf("a single corrupted record should resync, not fail the compile: %v", err)
	}
	if compileRes.Report.LatentResyncCount == 0 {
		t.Error("expected at least one resynced latent record")
	}
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var digits [20]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}
