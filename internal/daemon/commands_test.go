package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/control"
	"scribe/internal/job"
	"scribe/internal/session"

	"github.com/spf13/cobra"
)

// testConfig keeps every daemon path in a short temp dir so the unix socket
// path stays under the platform limit.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir, err := os.MkdirTemp("", "scribed")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	cfg, _ := config.Default()
	cfg.Paths.StateDir = dir
	cfg.Paths.ConfigPath = filepath.Join(dir, "config.toml")
	cfg.Paths.PidPath = filepath.Join(dir, "scribe.pid")
	cfg.Paths.SocketPath = filepath.Join(dir, "s.sock")
	cfg.Paths.LogPath = filepath.Join(dir, "scribe.log")
	cfg.Paths.TranscriptPath = filepath.Join(dir, "transcripts.log")
	if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
		t.Fatalf("save cfg: %v", err)
	}
	return cfg
}

// serveStatus answers every status request on the config's socket with snap.
func serveStatus(t *testing.T, cfg *config.Config, snap session.Snapshot) {
	t.Helper()
	ln, err := net.Listen("unix", cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			sc := bufio.NewScanner(conn)
			if sc.Scan() {
				_ = json.NewEncoder(conn).Encode(control.Status{Running: true, Session: snap})
			}
			_ = conn.Close()
		}
	}()
}

func TestStopRefusesWhilePolling(t *testing.T) {
	cfg := testConfig(t)
	serveStatus(t, cfg, session.Snapshot{Phase: session.PhasePolling, Handle: "uploads/a.wav", Attempt: 4})

	var buf bytes.Buffer
	err := stop(&buf, cfg, false)
	if !errors.Is(err, ErrRunActive) {
		t.Fatalf("err=%v want ErrRunActive", err)
	}
	if !strings.Contains(err.Error(), "handle uploads/a.wav, attempt 4") || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("err=%v", err)
	}
}

func TestStopForceReportsAbandonedHandle(t *testing.T) {
	cfg := testConfig(t)
	serveStatus(t, cfg, session.Snapshot{Phase: session.PhaseSubmitting})

	var buf bytes.Buffer
	// no pid file: the signal step fails after the check passes
	err := stop(&buf, cfg, true)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v want missing pid file", err)
	}
	if !strings.Contains(buf.String(), "abandoning submitting run") {
		t.Fatalf("out=%q", buf.String())
	}
}

func TestStopIgnoresFinishedRuns(t *testing.T) {
	for _, phase := range []session.Phase{session.PhaseIdle, session.PhaseOutcome} {
		cfg := testConfig(t)
		serveStatus(t, cfg, session.Snapshot{Phase: phase, LastOutcome: &job.Outcome{Kind: job.OutcomeTimedOut}})
		var buf bytes.Buffer
		if err := stop(&buf, cfg, false); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s: err=%v want missing pid file", phase, err)
		}
		if buf.Len() != 0 {
			t.Fatalf("%s: out=%q", phase, buf.String())
		}
	}
}

func TestStopWithoutSocketStillSignals(t *testing.T) {
	cfg := testConfig(t)
	if err := stop(&bytes.Buffer{}, cfg, false); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v want missing pid file", err)
	}
}

func TestStopAndRestartCommandsRefuseActiveRun(t *testing.T) {
	cfg := testConfig(t)
	serveStatus(t, cfg, session.Snapshot{Phase: session.PhaseRecording})
	path := cfg.Paths.ConfigPath
	for _, cmd := range []*cobra.Command{NewStopCmd(&path), NewRestartCmd(&path)} {
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		cmd.SetArgs([]string{})
		if err := cmd.Execute(); !errors.Is(err, ErrRunActive) {
			t.Fatalf("err=%v want ErrRunActive", err)
		}
	}
}

func TestWaitForShutdownSucceedsWhenPidFileRemoved(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.Paths.PidPath, []byte("12345"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.Remove(cfg.Paths.PidPath)
	}()
	if err := waitForShutdown(cfg, 2*time.Second); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestWaitForShutdownTimesOutOnAlivePid(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if err := waitForShutdown(cfg, 300*time.Millisecond); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scribe.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := readPID(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRunningPID(t *testing.T) {
	cfg := testConfig(t)
	if _, ok := runningPID(cfg); ok {
		t.Fatalf("no pid file should mean not running")
	}
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if pid, ok := runningPID(cfg); !ok || pid != os.Getpid() {
		t.Fatalf("pid=%d ok=%v", pid, ok)
	}
	var buf bytes.Buffer
	if err := start(&buf, cfg, overrides{}); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("start over live pid: %v", err)
	}
}

func TestOverridesEnv(t *testing.T) {
	if env := (overrides{}).env(); len(env) != 0 {
		t.Fatalf("empty overrides env=%v", env)
	}
	env := overrides{baseURL: "http://127.0.0.1:5000", metricsAddr: "127.0.0.1:9318"}.env()
	want := []string{"SCRIBE_BASE_URL=http://127.0.0.1:5000", "SCRIBE_METRICS_ADDR=127.0.0.1:9318"}
	if strings.Join(env, " ") != strings.Join(want, " ") {
		t.Fatalf("env=%v", env)
	}
	path := ""
	for _, cmd := range []*cobra.Command{NewStartCmd(&path), NewServeCmd(&path), NewRestartCmd(&path)} {
		for _, name := range []string{"base-url", "metrics-addr"} {
			if cmd.Flag(name) == nil {
				t.Fatalf("%s: missing --%s", cmd.Name(), name)
			}
		}
	}
	for _, cmd := range []*cobra.Command{NewStopCmd(&path), NewRestartCmd(&path)} {
		if cmd.Flag("force") == nil {
			t.Fatalf("%s: missing --force", cmd.Name())
		}
	}
}
