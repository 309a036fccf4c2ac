package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"scribe/internal/config"
	"scribe/internal/doctor"
	"scribe/internal/hook"
	"scribe/internal/logging"
	"scribe/internal/session"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewStatusCmd queries daemon status.
func NewStatusCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			var status Status
			if err := call(cfg, Request{Op: "status"}, &status); err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				format = "json"
			}
			return writeStatus(cmd.OutOrStdout(), status, format)
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	cmd.Flags().String("format", "text", "output format: text, json, yaml")
	return cmd
}

func writeStatus(w io.Writer, status Status, format string) error {
	switch format {
	case "json":
		return json.NewEncoder(w).Encode(status)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(status)
	case "text", "":
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	fmt.Fprintf(w, "running: %v\nuptime: %.1fs\nphase: %s\n", status.Running, status.UptimeSec, status.Session.Phase)
	if status.Session.Handle != "" {
		fmt.Fprintf(w, "handle: %s\n", status.Session.Handle)
	}
	if status.Session.Phase == session.PhasePolling {
		fmt.Fprintf(w, "attempt: %d (%.1fs)\n", status.Session.Attempt, float64(status.Session.ElapsedMS)/1000)
	}
	if o := status.Session.LastOutcome; o != nil {
		fmt.Fprintf(w, "last: %s\n", RenderOutcome(*o))
	}
	if status.Session.LastError != "" {
		fmt.Fprintf(w, "last error: %s\n", status.Session.LastError)
	}
	for _, t := range status.Transcripts {
		fmt.Fprintf(w, "%s  %s\n", t.Timestamp.Format("15:04:05"), t.Text)
	}
	return nil
}

// NewHealthCmd pings the control socket.
func NewHealthCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Ping the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			resp, err := simple(cfg, "health")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok (%s)\n", resp.Phase)
			return nil
		},
	}
}

// NewToggleCmd starts or stops a recording in the daemon.
func NewToggleCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Start recording, or stop and transcribe",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			resp, err := simple(cfg, "toggle")
			if err != nil {
				return err
			}
			switch resp.Phase {
			case session.PhaseRecording:
				fmt.Fprintln(cmd.OutOrStdout(), "Recording...")
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "Uploading recording...")
			}
			return nil
		},
	}
}

// NewCancelCmd abandons the daemon's active run.
func NewCancelCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active recording or poll",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if _, err := simple(cfg, "cancel"); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
			return nil
		},
	}
}

// NewWatchCmd follows the daemon event stream.
func NewWatchCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow daemon events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			jsonOut, _ := cmd.Flags().GetBool("json")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cfg, interval, func(ev session.Event) {
				if jsonOut {
					_ = json.NewEncoder(cmd.OutOrStdout()).Encode(ev)
					return
				}
				if line := Render(ev); line != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", ev.Timestamp.Local().Format("15:04:05"), line)
				}
			})
		},
	}
	cmd.Flags().Duration("interval", 500*time.Millisecond, "poll interval for new events")
	cmd.Flags().Bool("json", false, "print raw events as JSON lines")
	return cmd
}

func watch(ctx context.Context, cfg *config.Config, interval time.Duration, emit func(session.Event)) error {
	var seq int64
	// start from the present; history is available through status
	var first EventsResponse
	if err := call(cfg, Request{Op: "events"}, &first); err != nil {
		return err
	}
	seq = first.LastSeq
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		var resp EventsResponse
		if err := call(cfg, Request{Op: "events", Since: seq}, &resp); err != nil {
			return err
		}
		seq = advance(seq, resp, emit)
	}
}

// advance emits the new events and returns the sequence to resume from. It
// never moves past the newest delivered event while events were returned.
func advance(seq int64, resp EventsResponse, emit func(session.Event)) int64 {
	for _, ev := range resp.Events {
		if ev.Seq <= seq {
			continue
		}
		emit(ev)
		seq = ev.Seq
	}
	if len(resp.Events) == 0 && resp.LastSeq > seq {
		// the window was trimmed past seq; nothing older is left to fetch
		seq = resp.LastSeq
	}
	return seq
}

// NewTailLogCmd tails the main log file (simple last N lines).
func NewTailLogCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail-log",
		Short: "Show last log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("lines")
			return tailFile(cmd.OutOrStdout(), cfg.Paths.LogPath, n)
		},
	}
	cmd.Flags().IntP("lines", "n", 50, "number of lines")
	return cmd
}

func tailFile(w io.Writer, path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			fmt.Fprintln(w, l)
		}
	}
	return nil
}

// NewTestHookCmd triggers hook manually.
func NewTestHookCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "test-hook \"some text\"",
		Short: "Send sample text through hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger, err := logging.Configure(cfg)
			if err != nil {
				return err
			}
			r := hook.NewRunner(cfg, logger)
			job := hook.Job{Text: args[0], Handle: "test-hook", Timestamp: time.Now()}
			return r.Run(cmd.Context(), job)
		},
	}
}

// NewDoctorCmd runs environment checks.
func NewDoctorCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check remote service, hook and audio setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			results := doctor.Run(cmd.Context(), cfg)
			exitCode := 0
			for _, r := range results {
				status := "ok"
				if !r.Pass {
					status = "fail"
					exitCode = 1
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-4s %s\n", r.Name, status, r.Detail)
			}
			if exitCode != 0 {
				return fmt.Errorf("doctor found issues")
			}
			return nil
		},
	}
}
