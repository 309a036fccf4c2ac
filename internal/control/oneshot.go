package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"scribe/internal/capture"
	"scribe/internal/config"
	"scribe/internal/hook"
	"scribe/internal/job"
	"scribe/internal/logging"
	"scribe/internal/session"

	"github.com/spf13/cobra"
)

const foregroundAgent = "scribe-cli"

// errNoTranscript is returned after a failed or timed-out outcome has
// already been printed.
var errNoTranscript = errors.New("no transcript")

type foreground struct {
	runner   *session.Runner
	terminal chan session.Event
}

func newForeground(cmd *cobra.Command, cfgPath string, withCapture bool) (*foreground, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.Configure(cfg)
	if err != nil {
		return nil, err
	}
	var capt capture.Capturer
	if withCapture {
		if capt, err = capture.New(cfg, logger); err != nil {
			return nil, err
		}
	}
	client, err := session.NewClient(cfg, logger, foregroundAgent)
	if err != nil {
		return nil, err
	}
	jsonOut, _ := cmd.Flags().GetBool("json")
	noHook, _ := cmd.Flags().GetBool("no-hook")

	fg := &foreground{terminal: make(chan session.Event, 1)}
	opts := session.Options{
		Service:  client,
		Capturer: capt,
		Logger:   logger,
		OnEvent:  fg.printer(cmd.OutOrStdout(), jsonOut),
	}
	if !noHook {
		opts.Hook = hook.NewRunner(cfg, logger)
	}
	if fg.runner, err = session.New(cfg, opts); err != nil {
		return nil, err
	}
	return fg, nil
}

// printer renders events as they happen and signals the terminal one.
func (fg *foreground) printer(w io.Writer, jsonOut bool) func(session.Event) {
	return func(ev session.Event) {
		if jsonOut {
			if ev.Outcome != nil {
				_ = json.NewEncoder(w).Encode(ev.Outcome)
			}
		} else if line := Render(ev); line != "" {
			fmt.Fprintln(w, line)
		}
		if ev.Phase == session.PhaseOutcome || (ev.Phase == session.PhaseIdle && (ev.Failure != "" || ev.Cancelled)) {
			select {
			case fg.terminal <- ev:
			default:
			}
		}
	}
}

func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func outcomeErr(o job.Outcome) error {
	if o.Kind == job.OutcomeTranscript {
		return nil
	}
	return errNoTranscript
}

func addForegroundFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "print the outcome as JSON")
	cmd.Flags().Bool("no-hook", false, "do not run the configured hook")
}

// NewRecordCmd records from the microphone and transcribes in the foreground.
func NewRecordCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and transcribe",
		RunE: func(cmd *cobra.Command, args []string) error {
			fg, err := newForeground(cmd, *cfgPath, true)
			if err != nil {
				return err
			}
			ctx, stop := interruptible(cmd)
			defer stop()

			if err := fg.runner.StartRecording(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Press Enter to stop.")
			go func() {
				_, _ = bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				_ = fg.runner.StopRecording()
			}()

			var ev session.Event
			select {
			case ev = <-fg.terminal:
			case <-ctx.Done():
				_ = fg.runner.Cancel()
				ev = <-fg.terminal
			}
			fg.runner.Wait()
			switch {
			case ev.Outcome != nil:
				return outcomeErr(*ev.Outcome)
			case ev.Cancelled:
				return context.Canceled
			default:
				return errors.New(ev.Error)
			}
		},
	}
	addForegroundFlags(cmd)
	return cmd
}

// NewSubmitCmd transcribes an existing audio file.
func NewSubmitCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Upload an audio file and wait for its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := capture.LoadFile(args[0])
			if err != nil {
				return err
			}
			fg, err := newForeground(cmd, *cfgPath, false)
			if err != nil {
				return err
			}
			ctx, stop := interruptible(cmd)
			defer stop()
			out, err := fg.runner.Transcribe(ctx, payload)
			if err != nil {
				return err
			}
			return outcomeErr(out)
		},
	}
	addForegroundFlags(cmd)
	return cmd
}

// NewPollCmd follows a job that was already submitted.
func NewPollCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll <handle>",
		Short: "Poll an already submitted job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fg, err := newForeground(cmd, *cfgPath, false)
			if err != nil {
				return err
			}
			ctx, stop := interruptible(cmd)
			defer stop()
			out, err := fg.runner.Follow(ctx, job.Handle(args[0]))
			if err != nil {
				return err
			}
			return outcomeErr(out)
		},
	}
	addForegroundFlags(cmd)
	return cmd
}
