package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"scribe/internal/capture"
	"scribe/internal/config"
	"scribe/internal/session"
)

// Result represents a diagnostic check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Run executes doctor checks.
func Run(ctx context.Context, cfg *config.Config) []Result {
	results := []Result{
		checkFile("config path", cfg.Paths.ConfigPath),
		checkRemote(ctx, cfg.Remote.BaseURL, 3*time.Second),
		checkBudget(cfg),
	}
	if cfg.Hook.Enabled {
		results = append(results, checkHookExecutable(cfg.Hook.Command))
	} else {
		results = append(results, Result{Name: "hook.command", Pass: true, Detail: "hook disabled"})
	}
	results = append(results, checkPortAudioPkgConfig(), checkCapture())
	return results
}

func checkFile(label, path string) Result {
	if path == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

// checkRemote passes when the base URL answers HTTP at all; any status code
// counts as reachable.
func checkRemote(ctx context.Context, baseURL string, timeout time.Duration) Result {
	label := "remote"
	if strings.TrimSpace(baseURL) == "" {
		return Result{Name: label, Pass: false, Detail: "remote.base_url not set (or SCRIBE_BASE_URL)"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/", nil)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: fmt.Sprintf("unreachable: %v", err)}
	}
	_ = resp.Body.Close()
	return Result{Name: label, Pass: true, Detail: fmt.Sprintf("%s (HTTP %d)", baseURL, resp.StatusCode)}
}

func checkBudget(cfg *config.Config) Result {
	b := session.BudgetFrom(cfg)
	if err := b.Validate(); err != nil {
		return Result{Name: "poll", Pass: false, Detail: err.Error()}
	}
	return Result{Name: "poll", Pass: true, Detail: fmt.Sprintf("%d attempts, worst case %s", b.MaxAttempts, b.Backoff.Total(b.MaxAttempts).Round(time.Millisecond))}
}

func checkHookExecutable(cmd string) Result {
	label := "hook.command"
	if cmd == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	path := os.ExpandEnv(cmd)
	if fields := strings.Fields(path); len(fields) > 0 {
		path = fields[0]
	}
	// If contains a path separator, treat as explicit path.
	if strings.Contains(path, "/") || strings.Contains(path, "\\") {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Name: label, Pass: false, Detail: err.Error()}
		}
		if info.IsDir() {
			return Result{Name: label, Pass: false, Detail: "is a directory; set hook.command to an executable file"}
		}
		if info.Mode().Perm()&0o111 == 0 {
			return Result{Name: label, Pass: false, Detail: "not executable; chmod +x or choose another command"}
		}
		return Result{Name: label, Pass: true, Detail: path}
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: resolved}
}

func checkPortAudioPkgConfig() Result {
	pkg, err := exec.LookPath("pkg-config")
	if err != nil {
		return Result{Name: "pkg-config", Pass: false, Detail: "pkg-config not found (brew install pkg-config)"}
	}
	cmd := exec.Command(pkg, "--exists", "portaudio-2.0")
	if err := cmd.Run(); err != nil {
		return Result{Name: "portaudio", Pass: false, Detail: "portaudio-2.0 not found (brew install portaudio)"}
	}
	versionCmd := exec.Command(pkg, "--modversion", "portaudio-2.0")
	if out, err := versionCmd.Output(); err == nil {
		return Result{Name: "portaudio", Pass: true, Detail: strings.TrimSpace(string(out))}
	}
	return Result{Name: "portaudio", Pass: true, Detail: "found via pkg-config"}
}

func checkCapture() Result {
	if !capture.Available {
		return Result{Name: "capture", Pass: false, Detail: "built without -tags portaudio; only submit/poll work"}
	}
	if err := capture.Probe(); err != nil {
		return Result{Name: "capture", Pass: false, Detail: err.Error()}
	}
	return Result{Name: "capture", Pass: true, Detail: "ok"}
}
