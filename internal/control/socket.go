package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"scribe/internal/config"
)

const dialTimeout = 2 * time.Second

// call sends one request to the daemon and decodes the single-line reply.
func call(cfg *config.Config, req Request, out any) error {
	conn, err := net.DialTimeout("unix", cfg.Paths.SocketPath, dialTimeout)
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return err
	}
	if err := json.NewDecoder(conn).Decode(out); err != nil {
		return fmt.Errorf("read daemon reply: %w", err)
	}
	return nil
}

// simple runs an op whose reply is a SimpleResponse and turns !OK into an
// error.
func simple(cfg *config.Config, op string) (SimpleResponse, error) {
	var resp SimpleResponse
	if err := call(cfg, Request{Op: op}, &resp); err != nil {
		return resp, err
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s: %s", op, resp.Message)
	}
	return resp, nil
}

// FetchStatus asks a running daemon for its status.
func FetchStatus(cfg *config.Config) (Status, error) {
	var st Status
	err := call(cfg, Request{Op: "status"}, &st)
	return st, err
}
