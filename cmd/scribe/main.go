package main

import (
	"context"
	"fmt"
	"os"

	"scribe/internal/control"
	"scribe/internal/daemon"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cobra.Command{
		Use:   "scribe",
		Short: "Scribe: record, upload, and wait for a remote transcript",
		Long: `Scribe records from your mic (or takes an audio file), uploads it to a remote
transcription service, and polls the job with bounded backoff until a transcript,
an error, or a timeout comes back. Completed transcripts can be handed to a hook.

Key commands:
  start|stop|restart        Daemon lifecycle
  toggle|cancel             Start/stop a recording in the daemon, abandon a job
  status [--json|--format]  Phase, last outcome, recent transcripts
  watch                     Follow daemon events
  record|submit|poll        Foreground one-shot runs
  mic list|set              Select microphone (alias: microphone, mics)
  doctor|config show        Check setup, print effective config
  devserver                 Local fake of the transcription service
  service install|uninstall|status   launchd/systemd helper
  health|tail-log|test-hook Liveness, log tail, manual hook

Notable flags/env:
  --base-url <url>          Transcription service for this daemon run
  --metrics-addr <addr>     Enable /metrics (Prometheus)
  Env overrides: SCRIBE_BASE_URL, SCRIBE_MAX_ATTEMPTS, SCRIBE_METRICS_ADDR,
                 SCRIBE_LOG_LEVEL/FORMAT, SCRIBE_TRANSCRIPTS_ENABLED,
                 SCRIBE_REDACT_PII`,
		Example: `  scribe devserver --delay 3s &
  SCRIBE_BASE_URL=http://127.0.0.1:5000 scribe submit meeting.wav
  scribe start --base-url https://transcribe.example.com --metrics-addr 127.0.0.1:9318
  scribe toggle; scribe toggle; scribe status
  scribe poll uploads/3f0c9e.wav`,
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}

	root.Version = version
	root.SetVersionTemplate("Scribe v{{.Version}}\n")

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/scribe/config.toml")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(daemon.NewStartCmd(cfgPath))
	root.AddCommand(daemon.NewStopCmd(cfgPath))
	root.AddCommand(daemon.NewRestartCmd(cfgPath))
	root.AddCommand(control.NewStatusCmd(cfgPath))
	root.AddCommand(control.NewHealthCmd(cfgPath))
	root.AddCommand(control.NewToggleCmd(cfgPath))
	root.AddCommand(control.NewCancelCmd(cfgPath))
	root.AddCommand(control.NewWatchCmd(cfgPath))
	root.AddCommand(control.NewRecordCmd(cfgPath))
	root.AddCommand(control.NewSubmitCmd(cfgPath))
	root.AddCommand(control.NewPollCmd(cfgPath))
	root.AddCommand(control.NewMicCmd(cfgPath))
	root.AddCommand(control.NewDoctorCmd(cfgPath))
	root.AddCommand(control.NewConfigCmd(cfgPath))
	root.AddCommand(control.NewDevServerCmd(cfgPath))
	root.AddCommand(control.NewServiceRootCmd(cfgPath))
	root.AddCommand(control.NewTailLogCmd(cfgPath))
	root.AddCommand(control.NewTestHookCmd(cfgPath))

	// Hidden internal serve command used by start.
	root.AddCommand(daemon.NewServeCmd(cfgPath))

	applyColorHelp(root)

	return root.ExecuteContext(context.Background())
}

func applyColorHelp(root *cobra.Command) {
	const (
		boldBlue = "\033[1;34m"
		green    = "\033[32m"
		bold     = "\033[1m"
		dim      = "\033[2m"
		reset    = "\033[0m"
	)
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			// subcommands keep cobra's default layout for their own flags
			cmd.SetHelpFunc(nil)
			_ = cmd.Usage()
			return
		}
		out := cmd.OutOrStdout()
		write := func(format string, args ...any) { _, _ = fmt.Fprintf(out, format, args...) }
		writeln := func(line string) { _, _ = fmt.Fprintln(out, line) }

		write("%sScribe%s: remote transcription client %s(v%s)%s\n", boldBlue, reset, dim, version, reset)
		write("%sRecords, uploads, polls with bounded backoff, and reports the outcome.%s\n\n", dim, reset)

		write("%sUsage%s\n", bold, reset)
		write("  scribe [command] [flags]\n\n")

		write("%sKey commands%s\n", bold, reset)
		writeln("  start|stop|restart          daemon lifecycle (--force drops an active run)")
		writeln("  toggle                      start recording / stop and transcribe")
		writeln("  cancel                      abandon the active recording or poll")
		writeln("  status [--json|--format]    phase, last outcome, recent transcripts")
		writeln("  watch                       follow daemon events")
		writeln("  record                      record in the foreground (Enter stops)")
		writeln("  submit <file>               transcribe an existing audio file")
		writeln("  poll <handle>               follow an already submitted job")
		writeln("  mic list|set                select input device (alias: microphone, mics)")
		writeln("  doctor                      check remote/hook/portaudio")
		writeln("  devserver                   local fake transcription service")
		writeln("  service install|uninstall|status manage launchd/systemd unit")
		writeln("  health                      control-socket liveness ping")
		writeln("  tail-log                    show last log lines")
		writeln("  test-hook \"text\"            invoke hook manually")
		writeln("")

		write("%sNotable flags & env%s\n", bold, reset)
		writeln("  --base-url <url>        transcription service (start/serve)")
		writeln("  --metrics-addr <addr>   enable /metrics (Prometheus)")
		writeln("  -c, --config <path>     config file (default ~/.config/scribe/config.toml)")
		writeln("  Env: SCRIBE_BASE_URL=https://host, SCRIBE_MAX_ATTEMPTS=60,")
		writeln("       SCRIBE_METRICS_ADDR=host:port, SCRIBE_LOG_LEVEL=debug,")
		writeln("       SCRIBE_LOG_FORMAT=json, SCRIBE_TRANSCRIPTS_ENABLED=0, SCRIBE_REDACT_PII=1")
		writeln("")

		write("%sExamples%s\n", bold, reset)
		writeln("  scribe devserver --delay 3s")
		writeln("  SCRIBE_BASE_URL=http://127.0.0.1:5000 scribe submit meeting.wav")
		writeln("  scribe start --base-url https://transcribe.example.com")
		writeln("  scribe toggle && sleep 5 && scribe toggle")
		writeln("  scribe status --format yaml")
		writeln("")

		write("%sCommands%s\n", bold, reset)
		for _, c := range cmd.Commands() {
			if c.Hidden {
				continue
			}
			write("  %s%-15s%s %s\n", green, c.Name(), reset, c.Short)
		}
	})
}
