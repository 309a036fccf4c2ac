package control

import (
	"os"
	"os/signal"
	"syscall"

	"scribe/internal/config"
	"scribe/internal/devserver"
	"scribe/internal/logging"

	"github.com/spf13/cobra"
)

// NewDevServerCmd runs a local fake of the transcription service.
func NewDevServerCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local fake transcription service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			srv, err := newDevServer(cmd, cfg)
			if err != nil {
				return err
			}
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				_ = srv.Shutdown()
			}()
			addr, _ := cmd.Flags().GetString("addr")
			return srv.Listen(addr)
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:5000", "listen address")
	cmd.Flags().Duration("delay", 0, "how long jobs report processing")
	cmd.Flags().String("transcript", "", "fixed transcript to return")
	cmd.Flags().String("fail", "", "end every job in error with this message")
	cmd.Flags().Bool("reject-uploads", false, "answer every upload with HTTP 500")
	cmd.Flags().Bool("stdout", false, "mirror logs to stdout (overrides logging.stdout)")
	return cmd
}

// newDevServer builds the fake service from flags, logging the way the
// daemon does.
func newDevServer(cmd *cobra.Command, cfg *config.Config) (*devserver.Server, error) {
	if cmd.Flags().Changed("stdout") {
		cfg.Logging.Stdout, _ = cmd.Flags().GetBool("stdout")
	}
	logger, err := logging.Configure(cfg)
	if err != nil {
		return nil, err
	}
	opts := devserver.Options{}
	opts.ProcessingDelay, _ = cmd.Flags().GetDuration("delay")
	opts.Transcript, _ = cmd.Flags().GetString("transcript")
	opts.FailWith, _ = cmd.Flags().GetString("fail")
	opts.RejectUploads, _ = cmd.Flags().GetBool("reject-uploads")
	return devserver.New(opts, logger), nil
}
