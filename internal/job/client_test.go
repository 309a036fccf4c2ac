package job

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"scribe/internal/logging"
)

type fakeService struct {
	uploads    atomic.Int32
	starts     atomic.Int32
	queries    atomic.Int32
	uploadCode int
	startCode  int
	uploadBody string
	startBody  string
	statusBody string
	statusCode int
	lastPath   atomic.Value
	lastFile   atomic.Value
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		f.uploads.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("upload method %s", r.Method)
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		f.lastFile.Store(hdr.Filename + ":" + hdr.Header.Get("Content-Type") + ":" + string(data))
		if f.uploadCode != 0 {
			w.WriteHeader(f.uploadCode)
		}
		_, _ = io.WriteString(w, f.uploadBody)
	})
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		f.starts.Add(1)
		var req struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode start body: %v", err)
		}
		f.lastPath.Store(req.Path)
		if f.startCode != 0 {
			w.WriteHeader(f.startCode)
		}
		_, _ = io.WriteString(w, f.startBody)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		f.queries.Add(1)
		f.lastPath.Store(r.URL.Query().Get("path"))
		if f.statusCode != 0 {
			w.WriteHeader(f.statusCode)
		}
		_, _ = io.WriteString(w, f.statusBody)
	})
	return mux
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func wavPayload() Payload {
	return Payload{Data: []byte("RIFF....WAVE"), MediaType: "audio/wav", Filename: "recording.wav"}
}

func TestSubmitReturnsHandle(t *testing.T) {
	f := &fakeService{
		uploadBody: `{"path":"uploads/recording-1.wav"}`,
		startBody:  `{"status":"processing"}`,
	}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	h, err := newTestClient(t, srv).Submit(context.Background(), wavPayload())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h != "uploads/recording-1.wav" {
		t.Fatalf("handle=%q", h)
	}
	if got := f.lastPath.Load(); got != "uploads/recording-1.wav" {
		t.Fatalf("transcribe path=%v", got)
	}
	if got := f.lastFile.Load(); got != "recording.wav:audio/wav:RIFF....WAVE" {
		t.Fatalf("uploaded part=%v", got)
	}
	if f.uploads.Load() != 1 || f.starts.Load() != 1 {
		t.Fatalf("uploads=%d starts=%d", f.uploads.Load(), f.starts.Load())
	}
}

func TestSubmitUploadServerErrorSkipsStart(t *testing.T) {
	f := &fakeService{uploadCode: http.StatusInternalServerError, uploadBody: `{"error":"disk full"}`}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Submit(context.Background(), wavPayload())
	var se *SubmissionError
	if !errors.As(err, &se) {
		t.Fatalf("err=%v want SubmissionError", err)
	}
	if se.Op != "upload" || se.StatusCode != 500 || se.Message != "disk full" {
		t.Fatalf("unexpected error %+v", se)
	}
	if f.starts.Load() != 0 || f.queries.Load() != 0 {
		t.Fatalf("starts=%d queries=%d after failed upload", f.starts.Load(), f.queries.Load())
	}
}

func TestSubmitMissingPath(t *testing.T) {
	f := &fakeService{uploadBody: `{}`}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	_, err := newTestClient(t, srv).Submit(context.Background(), wavPayload())
	if !errors.Is(err, ErrMissingPath) {
		t.Fatalf("err=%v want ErrMissingPath", err)
	}
	if f.starts.Load() != 0 {
		t.Fatalf("start called without a path")
	}
}

func TestSubmitStartFailure(t *testing.T) {
	f := &fakeService{
		uploadBody: `{"path":"uploads/x.wav"}`,
		startCode:  http.StatusBadGateway,
		startBody:  "upstream down",
	}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	_, err := newTestClient(t, srv).Submit(context.Background(), wavPayload())
	var se *SubmissionError
	if !errors.As(err, &se) || se.Op != "transcribe" || se.StatusCode != http.StatusBadGateway {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("error text lost server message: %v", err)
	}
}

func TestSubmitStartReportsErrorStatus(t *testing.T) {
	f := &fakeService{
		uploadBody: `{"path":"uploads/x.wav"}`,
		startBody:  `{"status":"error","error":"unsupported media"}`,
	}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	_, err := newTestClient(t, srv).Submit(context.Background(), wavPayload())
	var se *SubmissionError
	if !errors.As(err, &se) || se.Message != "unsupported media" {
		t.Fatalf("err=%v", err)
	}
}

func TestSubmitEmptyPayloadNoNetwork(t *testing.T) {
	f := &fakeService{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	_, err := newTestClient(t, srv).Submit(context.Background(), Payload{MediaType: "audio/wav"})
	if !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("err=%v want ErrEmptyPayload", err)
	}
	if f.uploads.Load() != 0 {
		t.Fatalf("upload attempted for empty payload")
	}
}

func TestSubmitTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(t, srv)
	srv.Close()

	_, err := c.Submit(context.Background(), wavPayload())
	var se *SubmissionError
	if !errors.As(err, &se) || se.Op != "upload" || se.Err == nil {
		t.Fatalf("err=%v want upload transport error", err)
	}
}

func TestQueryStatusVariants(t *testing.T) {
	cases := []struct {
		code    int
		body    string
		want    Status
		wantErr string
	}{
		{0, `{"status":"processing"}`, Status{State: StateProcessing}, ""},
		{0, `{"status":"completed","transcription":"hi there"}`, Status{State: StateCompleted, Transcript: "hi there"}, ""},
		{0, `{"status":"error","error":"bad audio"}`, Status{State: StateError, Message: "bad audio"}, ""},
		{0, `{"status":"queued"}`, Status{}, `unknown status "queued"`},
		{0, `not json`, Status{}, "decode response"},
		{http.StatusInternalServerError, `{"error":"x"}`, Status{}, "HTTP 500: x"},
		{http.StatusNotFound, ``, Status{}, "HTTP 404"},
	}
	for _, c := range cases {
		f := &fakeService{statusBody: c.body, statusCode: c.code}
		srv := httptest.NewServer(f.handler(t))
		got, err := newTestClient(t, srv).QueryStatus(context.Background(), "uploads/a b&c.wav")
		srv.Close()
		if c.wantErr == "" && err != nil {
			t.Fatalf("body %s: unexpected err %v", c.body, err)
		}
		if c.wantErr != "" && (err == nil || !strings.Contains(err.Error(), c.wantErr)) {
			t.Fatalf("code %d body %s: err=%v want %q", c.code, c.body, err, c.wantErr)
		}
		if got != c.want {
			t.Fatalf("body %s: got %+v want %+v", c.body, got, c.want)
		}
		if p := f.lastPath.Load(); p != "uploads/a b&c.wav" {
			t.Fatalf("path not round-tripped through query encoding: %v", p)
		}
	}
}

func TestSubmitThenPollEndToEnd(t *testing.T) {
	f := &fakeService{
		uploadBody: `{"path":"uploads/e2e.wav"}`,
		startBody:  `{"status":"processing"}`,
		statusBody: `{"status":"completed","transcription":"end to end"}`,
	}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv)
	h, err := c.Submit(context.Background(), wavPayload())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	out, err := NewPoller(c, WithClock(newFakeClock()), WithLogger(logging.NewTestLogger())).
		PollUntilOutcome(context.Background(), h, DefaultBudget())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if out.Kind != OutcomeTranscript || out.Transcript != "end to end" || f.queries.Load() != 1 {
		t.Fatalf("outcome=%v queries=%d", out, f.queries.Load())
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://host", "http://"} {
		if _, err := NewClient(ClientConfig{BaseURL: raw}, nil); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestSubmitRejectsStartWithoutProcessing(t *testing.T) {
	for _, body := range []string{`{}`, `{"status":"completed"}`, `{"status":"queued"}`} {
		f := &fakeService{uploadBody: `{"path":"uploads/a.wav"}`, startBody: body}
		srv := httptest.NewServer(f.handler(t))
		_, err := newTestClient(t, srv).Submit(context.Background(), wavPayload())
		srv.Close()
		var se *SubmissionError
		if !errors.As(err, &se) || se.Op != "transcribe" || !strings.Contains(se.Message, "unexpected start status") {
			t.Fatalf("start body %s: err=%v", body, err)
		}
		if f.queries.Load() != 0 {
			t.Fatalf("start body %s: status queried", body)
		}
	}
}

func TestErrorTextTruncatesOnRuneBoundary(t *testing.T) {
	// one ASCII byte shifts every two-byte rune across the cut
	body := "x" + strings.Repeat("é", maxErrorBody)
	got := errorText([]byte(body))
	if !utf8.ValidString(got) {
		t.Fatalf("truncated text is not valid UTF-8: %q", got[len(got)-4:])
	}
	if len(got) > maxErrorBody || len(got) < maxErrorBody-utf8.UTFMax {
		t.Fatalf("len=%d want close to %d", len(got), maxErrorBody)
	}
}
