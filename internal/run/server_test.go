package run

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/control"
	"scribe/internal/job"
	"scribe/internal/logging"
	"scribe/internal/session"
)

type stubService struct{}

func (stubService) Submit(ctx context.Context, p job.Payload) (job.Handle, error) {
	return "uploads/x.wav", nil
}

func (stubService) QueryStatus(ctx context.Context, h job.Handle) (job.Status, error) {
	return job.Status{State: job.StateCompleted, Transcript: "done"}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Transcripts.Enabled = false
	logger := logging.NewTestLogger()
	metrics := session.NewMetrics()
	runner, err := session.New(cfg, session.Options{Service: stubService{}, Metrics: metrics, Logger: logger})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	return newServer(cfg, logger, runner, metrics)
}

// roundTrip sends one request through handleConn and decodes the reply.
func roundTrip(t *testing.T, s *Server, req control.Request, out any) {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()
	go s.handleConn(context.Background(), server)

	_ = client.SetDeadline(time.Now().Add(2 * time.Second))
	data, _ := json.Marshal(req)
	if _, err := client.Write(append(data, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}
	line, err := bufio.NewReader(client).ReadBytes('\n')
	if err != nil && err != io.EOF {
		t.Fatalf("read reply: %v", err)
	}
	if err := json.Unmarshal(line, out); err != nil {
		t.Fatalf("decode reply %q: %v", line, err)
	}
}

func TestStatusReportsIdleSession(t *testing.T) {
	s := newTestServer(t)
	var st control.Status
	roundTrip(t, s, control.Request{Op: "status"}, &st)
	if !st.Running || st.Session.Phase != session.PhaseIdle {
		t.Fatalf("status=%+v", st)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var resp control.SimpleResponse
	roundTrip(t, s, control.Request{Op: "health"}, &resp)
	if !resp.OK || resp.Phase != session.PhaseIdle {
		t.Fatalf("health=%+v", resp)
	}
}

func TestToggleWithoutCaptureFails(t *testing.T) {
	s := newTestServer(t)
	var resp control.SimpleResponse
	roundTrip(t, s, control.Request{Op: "toggle"}, &resp)
	if resp.OK || !strings.Contains(resp.Message, "no capture") {
		t.Fatalf("toggle=%+v", resp)
	}
}

func TestCancelWhenIdle(t *testing.T) {
	s := newTestServer(t)
	var resp control.SimpleResponse
	roundTrip(t, s, control.Request{Op: "cancel"}, &resp)
	if resp.OK || resp.Message != session.ErrIdle.Error() {
		t.Fatalf("cancel=%+v", resp)
	}
}

func TestEventsSince(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.runner.Transcribe(context.Background(), job.Payload{Data: []byte("x"), Filename: "x.wav"}); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	var all control.EventsResponse
	roundTrip(t, s, control.Request{Op: "events"}, &all)
	if len(all.Events) == 0 || all.Events[len(all.Events)-1].Phase != session.PhaseOutcome {
		t.Fatalf("events=%+v", all.Events)
	}
	var none control.EventsResponse
	roundTrip(t, s, control.Request{Op: "events", Since: all.LastSeq}, &none)
	if len(none.Events) != 0 || none.LastSeq != all.LastSeq {
		t.Fatalf("events since last=%+v", none)
	}
}

func TestUnknownOp(t *testing.T) {
	s := newTestServer(t)
	var resp control.SimpleResponse
	roundTrip(t, s, control.Request{Op: "reload"}, &resp)
	if resp.OK {
		t.Fatalf("expected failure for unknown op")
	}
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.runner.Transcribe(context.Background(), job.Payload{Data: []byte("x"), Filename: "x.wav"}); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	srv := httptest.NewServer(s.metrics.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{`scribe_outcomes_total{kind="transcript"} 1`, `scribe_submissions_total{result="ok"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestEventsReplyNeverSkipsConcurrentPublish(t *testing.T) {
	s := newTestServer(t)
	bus := s.runner.Events()
	stop := make(chan struct{})
	published := make(chan struct{})
	go func() {
		defer close(published)
		for {
			select {
			case <-stop:
				return
			default:
				bus.Publish(session.Event{Phase: session.PhasePolling})
			}
		}
	}()
	for i := 0; i < 300; i++ {
		var resp control.EventsResponse
		roundTrip(t, s, control.Request{Op: "events", Since: bus.LastSeq()}, &resp)
		if n := len(resp.Events); n > 0 && resp.Events[n-1].Seq != resp.LastSeq {
			close(stop)
			<-published
			t.Fatalf("reply %d: newest event seq %d but last_seq %d", i, resp.Events[n-1].Seq, resp.LastSeq)
		}
	}
	close(stop)
	<-published
}
