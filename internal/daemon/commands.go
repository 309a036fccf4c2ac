package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"scribe/internal/config"
	"scribe/internal/control"
	"scribe/internal/logging"
	"scribe/internal/run"
	"scribe/internal/session"

	"github.com/spf13/cobra"
)

const (
	startupWait  = 2 * time.Second
	shutdownWait = 5 * time.Second
	pollEvery    = 100 * time.Millisecond
)

// ErrRunActive is returned by stop and restart when the daemon is in the
// middle of a run and --force was not given.
var ErrRunActive = errors.New("a run is in progress")

// overrides are per-run settings handed to the serve child through env.
type overrides struct {
	baseURL     string
	metricsAddr string
}

func addOverrideFlags(cmd *cobra.Command, o *overrides) {
	cmd.Flags().StringVar(&o.baseURL, "base-url", "", "transcription service base URL for this run")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "enable metrics at address (e.g., 127.0.0.1:9318) for this run")
}

func (o overrides) env() []string {
	var env []string
	if o.baseURL != "" {
		env = append(env, "SCRIBE_BASE_URL="+o.baseURL)
	}
	if o.metricsAddr != "" {
		env = append(env, "SCRIBE_METRICS_ADDR="+o.metricsAddr)
	}
	return env
}

// NewStartCmd spawns the daemon in the background.
func NewStartCmd(cfgPath *string) *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start scribe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			return start(cmd.OutOrStdout(), cfg, o)
		},
	}
	addOverrideFlags(cmd, &o)
	return cmd
}

func start(w io.Writer, cfg *config.Config, o overrides) error {
	if pid, ok := runningPID(cfg); ok {
		return fmt.Errorf("already running with pid %d", pid)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.PidPath), 0o755); err != nil {
		return err
	}
	self, err := os.Executable()
	if err != nil {
		return err
	}
	child := exec.Command(self, "serve", "--config", cfg.Paths.ConfigPath)
	child.Env = append(os.Environ(), o.env()...)
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	if !waitFor(startupWait, func() bool { _, err := os.Stat(cfg.Paths.PidPath); return err == nil }) {
		fmt.Fprintf(w, "scribe spawned (pid %d) but no pid file yet; check scribe tail-log\n", child.Process.Pid)
		return nil
	}
	fmt.Fprintf(w, "scribe started (pid %d)\n", child.Process.Pid)
	return nil
}

// NewServeCmd runs the daemon in the foreground (internal).
func NewServeCmd(cfgPath *string) *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:    "serve",
		Short:  "Run scribe daemon (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, kv := range o.env() {
				k, v, _ := strings.Cut(kv, "=")
				if err := os.Setenv(k, v); err != nil {
					return fmt.Errorf("set %s: %w", k, err)
				}
			}
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger, err := logging.Configure(cfg)
			if err != nil {
				return err
			}
			return run.Serve(cfg, logger, "scribe-daemon")
		},
	}
	addOverrideFlags(cmd, &o)
	return cmd
}

// NewStopCmd stops the daemon, refusing to drop an active run unless forced.
func NewStopCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop scribe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			if err := stop(cmd.OutOrStdout(), cfg, force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stop signal sent")
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "stop even while recording, submitting or polling")
	return cmd
}

// NewRestartCmd stops the daemon, waits for it to exit, then starts it again.
func NewRestartCmd(cfgPath *string) *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart scribe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			switch err := stop(cmd.OutOrStdout(), cfg, force); {
			case errors.Is(err, ErrRunActive):
				return err
			case err != nil && !errors.Is(err, os.ErrNotExist):
				return err
			}
			if err := waitForShutdown(cfg, shutdownWait); err != nil {
				return err
			}
			return start(cmd.OutOrStdout(), cfg, o)
		},
	}
	cmd.Flags().Bool("force", false, "restart even while recording, submitting or polling")
	addOverrideFlags(cmd, &o)
	return cmd
}

// stop checks the session over the control socket and then signals the
// daemon. An unreachable socket does not block the stop.
func stop(w io.Writer, cfg *config.Config, force bool) error {
	if snap, busy := activeRun(cfg); busy {
		if !force {
			return fmt.Errorf("%w: daemon is %s%s; rerun with --force to abandon it", ErrRunActive, snap.Phase, handleNote(snap))
		}
		fmt.Fprintf(w, "abandoning %s run%s\n", snap.Phase, handleNote(snap))
	}
	pid, err := readPID(cfg.Paths.PidPath)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

// activeRun reports the daemon's run when it is past idle and not finished.
func activeRun(cfg *config.Config) (session.Snapshot, bool) {
	st, err := control.FetchStatus(cfg)
	if err != nil {
		return session.Snapshot{}, false
	}
	switch st.Session.Phase {
	case session.PhaseRecording, session.PhaseSubmitting, session.PhasePolling:
		return st.Session, true
	}
	return st.Session, false
}

func handleNote(s session.Snapshot) string {
	if s.Handle == "" {
		return ""
	}
	return fmt.Sprintf(" (handle %s, attempt %d)", s.Handle, s.Attempt)
}

// runningPID returns the pid from the pid file when that process is alive.
func runningPID(cfg *config.Config) (int, bool) {
	pid, err := readPID(cfg.Paths.PidPath)
	if err != nil {
		return 0, false
	}
	return pid, alive(pid)
}

func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("pid file %s: %w", path, err)
	}
	return pid, nil
}

// waitForShutdown waits until the pid file is gone or names a dead process.
func waitForShutdown(cfg *config.Config, timeout time.Duration) error {
	stopped := waitFor(timeout, func() bool {
		pid, err := readPID(cfg.Paths.PidPath)
		if err != nil {
			return true
		}
		if !alive(pid) {
			_ = os.Remove(cfg.Paths.PidPath)
			return true
		}
		return false
	})
	if !stopped {
		return fmt.Errorf("restart: daemon did not stop within %s", timeout)
	}
	return nil
}

func waitFor(timeout time.Duration, done func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if done() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollEvery)
	}
}
