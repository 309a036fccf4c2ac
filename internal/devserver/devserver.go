// Package devserver is a local stand-in for the remote transcription service.
// It accepts uploads, pretends to transcribe them for a configurable time and
// then reports a canned transcript or an injected failure.
package devserver

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options control how uploads are answered.
type Options struct {
	// ProcessingDelay is how long a started job reports processing.
	ProcessingDelay time.Duration
	// Transcript replaces the generated transcript when set.
	Transcript string
	// FailWith makes every job end in the error state with this message.
	FailWith string
	// RejectUploads answers every upload with HTTP 500.
	RejectUploads bool
	MaxUploadMB   int
	Now           func() time.Time
}

type upload struct {
	filename  string
	mediaType string
	size      int64
	started   time.Time
}

// Server is the fake service.
type Server struct {
	app    *fiber.App
	opts   Options
	logger *logrus.Logger

	mu      sync.Mutex
	uploads map[string]*upload
}

func New(opts Options, logger *logrus.Logger) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 50
	}
	s := &Server{
		opts:    opts,
		logger:  logger,
		uploads: make(map[string]*upload),
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             opts.MaxUploadMB * 1024 * 1024,
	})
	s.app.Use(recover.New())
	s.app.Get("/", s.handleIndex)
	s.app.Post("/upload", s.handleUpload)
	s.app.Post("/transcribe", s.handleTranscribe)
	s.app.Get("/status", s.handleStatus)
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Infof("dev server listening on http://%s", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) handleIndex(c *fiber.Ctx) error {
	s.mu.Lock()
	n := len(s.uploads)
	s.mu.Unlock()
	return c.JSON(fiber.Map{"service": "scribe-devserver", "uploads": n})
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	if s.opts.RejectUploads {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "upload rejected"})
	}
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no file uploaded"})
	}
	if file.Size == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty file"})
	}
	path := fmt.Sprintf("uploads/%s%s", uuid.New().String(), strings.ToLower(filepath.Ext(file.Filename)))

	s.mu.Lock()
	s.uploads[path] = &upload{
		filename:  file.Filename,
		mediaType: file.Header.Get("Content-Type"),
		size:      file.Size,
	}
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{"path": path, "bytes": file.Size, "request_id": c.Get("X-Request-ID")}).Info("upload stored")
	return c.JSON(fiber.Map{"path": path})
}

func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	var body struct {
		Path string `json:"path"`
	}
	if err := c.BodyParser(&body); err != nil || body.Path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "error", "error": "path is required"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[body.Path]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"status": "error", "error": "unknown path"})
	}
	if u.started.IsZero() {
		u.started = s.opts.Now()
	}
	return c.JSON(fiber.Map{"status": "processing"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	path := c.Query("path")
	s.mu.Lock()
	u, ok := s.uploads[path]
	var snapshot upload
	if ok {
		snapshot = *u
	}
	s.mu.Unlock()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown path"})
	}
	if snapshot.started.IsZero() || s.opts.Now().Sub(snapshot.started) < s.opts.ProcessingDelay {
		return c.JSON(fiber.Map{"status": "processing"})
	}
	if s.opts.FailWith != "" {
		return c.JSON(fiber.Map{"status": "error", "error": s.opts.FailWith})
	}
	return c.JSON(fiber.Map{"status": "completed", "transcription": s.transcript(snapshot)})
}

func (s *Server) transcript(u upload) string {
	if s.opts.Transcript != "" {
		return s.opts.Transcript
	}
	return fmt.Sprintf("received %d bytes of %s (%s)", u.size, u.filename, u.mediaType)
}
