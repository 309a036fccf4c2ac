package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultFilename  = "recording.wav"
	defaultMediaType = "audio/wav"
	maxErrorBody     = 512
)

// ClientConfig configures the remote service client.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the remote transcription service.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	userAgent  string
	logger     *logrus.Logger
}

type uploadResponse struct {
	Path string `json:"path"`
}

type startRequest struct {
	Path string `json:"path"`
}

type statusResponse struct {
	Status        string `json:"status"`
	Transcription string `json:"transcription"`
	Error         string `json:"error"`
}

// NewClient validates the base URL and returns a client.
func NewClient(cfg ClientConfig, logger *logrus.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("remote base url is not configured; set remote.base_url or SCRIBE_BASE_URL")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must use http or https", raw)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", raw)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "scribe"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		base:       base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}, nil
}

// Submit uploads the payload and asks the service to start transcribing it.
// It performs no retries; any failure is returned as *SubmissionError.
func (c *Client) Submit(ctx context.Context, p Payload) (Handle, error) {
	if len(p.Data) == 0 {
		return "", &SubmissionError{Op: "upload", Err: ErrEmptyPayload}
	}
	started := time.Now()
	handle, err := c.upload(ctx, p)
	if err != nil {
		return "", err
	}
	c.logger.WithFields(logrus.Fields{
		"handle":     handle,
		"bytes":      len(p.Data),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Debug("upload complete")

	if err := c.startTranscription(ctx, handle); err != nil {
		// The upload stays on the server; nothing cleans it up.
		c.logger.WithField("handle", handle).Warnf("transcription start failed, upload orphaned: %v", err)
		return "", err
	}
	c.logger.WithFields(logrus.Fields{
		"handle":     handle,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("job submitted")
	return handle, nil
}

func (c *Client) upload(ctx context.Context, p Payload) (Handle, error) {
	body, contentType, err := multipartBody(p)
	if err != nil {
		return "", &SubmissionError{Op: "upload", Err: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "upload", nil, body)
	if err != nil {
		return "", &SubmissionError{Op: "upload", Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return "", asSubmissionError("upload", err)
	}
	if strings.TrimSpace(out.Path) == "" {
		return "", &SubmissionError{Op: "upload", Err: ErrMissingPath}
	}
	return Handle(out.Path), nil
}

func (c *Client) startTranscription(ctx context.Context, h Handle) error {
	raw, err := json.Marshal(startRequest{Path: string(h)})
	if err != nil {
		return &SubmissionError{Op: "transcribe", Err: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "transcribe", nil, bytes.NewReader(raw))
	if err != nil {
		return &SubmissionError{Op: "transcribe", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var out statusResponse
	if err := c.do(req, &out); err != nil {
		return asSubmissionError("transcribe", err)
	}
	switch State(out.Status) {
	case StateProcessing:
		return nil
	case StateError:
		return &SubmissionError{Op: "transcribe", Message: out.Error}
	default:
		return &SubmissionError{Op: "transcribe", Message: fmt.Sprintf("unexpected start status %q", out.Status)}
	}
}

// QueryStatus asks the service for the current state of a job.
func (c *Client) QueryStatus(ctx context.Context, h Handle) (Status, error) {
	q := url.Values{}
	q.Set("path", string(h))
	req, err := c.newRequest(ctx, http.MethodGet, "status", q, nil)
	if err != nil {
		return Status{}, err
	}
	var out statusResponse
	if err := c.do(req, &out); err != nil {
		return Status{}, fmt.Errorf("query status: %w", err)
	}
	switch st := State(out.Status); st {
	case StateProcessing:
		return Status{State: st}, nil
	case StateCompleted:
		return Status{State: st, Transcript: out.Transcription}, nil
	case StateError:
		return Status{State: st, Message: out.Error}, nil
	default:
		return Status{}, fmt.Errorf("query status: unknown status %q", out.Status)
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// httpStatusError carries a non-2xx response.
type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("HTTP %d", e.code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{code: resp.StatusCode, body: errorText(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func asSubmissionError(op string, err error) *SubmissionError {
	var hs *httpStatusError
	if errors.As(err, &hs) {
		return &SubmissionError{Op: op, StatusCode: hs.code, Message: hs.body}
	}
	return &SubmissionError{Op: op, Err: err}
}

// errorText prefers the service's {"error": "..."} message over the raw body.
func errorText(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

func multipartBody(p Payload) (io.Reader, string, error) {
	name := p.Filename
	if name == "" {
		name = defaultFilename
	}
	mediaType := p.MediaType
	if mediaType == "" {
		mediaType = defaultMediaType
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mediaType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(p.Data); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
