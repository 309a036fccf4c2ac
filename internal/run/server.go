package run

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scribe/internal/capture"
	"scribe/internal/config"
	"scribe/internal/control"
	"scribe/internal/hook"
	"scribe/internal/session"

	"github.com/sirupsen/logrus"
)

// Server owns the session runner and exposes it on the control socket and
// the metrics endpoint.
type Server struct {
	cfg       *config.Config
	logger    *logrus.Logger
	runner    *session.Runner
	metrics   *session.Metrics
	startedAt time.Time
}

// Serve runs the daemon until interrupted.
func Serve(cfg *config.Config, logger *logrus.Logger, userAgent string) error {
	if err := config.MustStatePaths(cfg); err != nil {
		return err
	}
	client, err := session.NewClient(cfg, logger, userAgent)
	if err != nil {
		return err
	}
	capt, err := capture.New(cfg, logger)
	if err != nil {
		logger.Warnf("capture disabled: %v", err)
		capt = nil
	}
	metrics := session.NewMetrics()
	runner, err := session.New(cfg, session.Options{
		Service:  client,
		Capturer: capt,
		Hook:     hook.NewRunner(cfg, logger),
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(cfg.Paths.PidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("remove pid file: %v", err)
		}
	}()
	if err := os.Remove(cfg.Paths.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debugf("remove stale socket: %v", err)
	}

	srv := newServer(cfg, logger, runner, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.controlLoop(ctx)
	if cfg.Metrics.Enabled {
		go srv.metricsServe(ctx.Done(), cfg.Metrics.Addr)
	}
	logger.WithFields(logrus.Fields{
		"base_url":     cfg.Remote.BaseURL,
		"max_attempts": runner.Budget().MaxAttempts,
		"capture":      capt != nil,
	}).Info("scribe daemon ready")

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-sigCh:
		logger.Infof("received signal %s, shutting down", s)
		cancel()
	case <-ctx.Done():
	}
	if err := runner.Cancel(); err == nil {
		logger.Info("cancelled in-flight run")
	}
	runner.Wait()
	return nil
}

func newServer(cfg *config.Config, logger *logrus.Logger, runner *session.Runner, metrics *session.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		runner:    runner,
		metrics:   metrics,
		startedAt: time.Now(),
	}
}

func (s *Server) controlLoop(ctx context.Context) {
	ln, err := net.Listen("unix", s.cfg.Paths.SocketPath)
	if err != nil {
		s.logger.Errorf("control listen: %v", err)
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Errorf("control accept: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil && ctx.Err() == nil {
			s.logger.Warnf("control connection close: %v", err)
		}
	}()
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return
	}
	var req control.Request
	if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
		_ = json.NewEncoder(conn).Encode(control.SimpleResponse{OK: false, Message: "bad request"})
		return
	}
	enc := json.NewEncoder(conn)
	switch req.Op {
	case "status":
		_ = enc.Encode(control.Status{
			Running:     true,
			UptimeSec:   time.Since(s.startedAt).Seconds(),
			Session:     s.runner.Snapshot(),
			Transcripts: s.runner.Transcripts(),
		})
	case "health":
		_ = enc.Encode(control.SimpleResponse{OK: true, Message: "ok", Phase: s.runner.Snapshot().Phase})
	case "toggle":
		phase, err := s.runner.Toggle(ctx)
		_ = enc.Encode(result(phase, err))
	case "start":
		_ = enc.Encode(result(session.PhaseRecording, s.runner.StartRecording(ctx)))
	case "stop":
		_ = enc.Encode(result(session.PhaseSubmitting, s.runner.StopRecording()))
	case "cancel":
		_ = enc.Encode(result(session.PhaseIdle, s.runner.Cancel()))
	case "events":
		events, last := s.runner.Events().Read(req.Since)
		_ = enc.Encode(control.EventsResponse{Events: events, LastSeq: last})
	default:
		_ = enc.Encode(control.SimpleResponse{OK: false, Message: fmt.Sprintf("unknown op %q", req.Op)})
	}
}

func result(phase session.Phase, err error) control.SimpleResponse {
	if err != nil {
		return control.SimpleResponse{OK: false, Message: err.Error()}
	}
	return control.SimpleResponse{OK: true, Message: "ok", Phase: phase}
}
