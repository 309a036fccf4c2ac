package hook

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/logging"
)

func TestShouldRunRequiresEnabledAndMinChars(t *testing.T) {
	cfg, _ := config.Default()
	cfg.Hook.Command = "/bin/echo"
	cfg.Hook.MinChars = 5
	r := NewRunner(cfg, logging.NewTestLogger())

	if r.ShouldRun("hello world") {
		t.Fatalf("disabled hook should not run")
	}
	cfg.Hook.Enabled = true
	if r.ShouldRun("hi") {
		t.Fatalf("short text should be skipped")
	}
	if !r.ShouldRun("hello world") {
		t.Fatalf("expected hook to run")
	}
}

func TestRunPassesPrefixArgsAndEnv(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	script := filepath.Join(dir, "hook.sh")
	body := "#!/bin/sh\nprintf '%s|%s|%s' \"$1\" \"$2\" \"$SCRIBE_HANDLE\" > \"$OUT\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	cfg, _ := config.Default()
	cfg.Hook.Enabled = true
	cfg.Hook.Command = script + " --flag"
	cfg.Hook.Prefix = "pref: "
	cfg.Hook.Env = map[string]string{"OUT": out}

	r := NewRunner(cfg, logging.NewTestLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Run(ctx, Job{Text: "hello", Handle: "uploads/a.wav", Timestamp: time.Now()}); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if got := string(data); got != "--flag|pref: hello|uploads/a.wav" {
		t.Fatalf("hook saw %q", got)
	}
}

func TestRunWithoutCommandFails(t *testing.T) {
	cfg, _ := config.Default()
	r := NewRunner(cfg, logging.NewTestLogger())
	if err := r.Run(context.Background(), Job{Text: "x"}); err == nil {
		t.Fatalf("expected error without command")
	}
}

func TestParseArgsQuoting(t *testing.T) {
	args, err := ParseArgs(`notify-send "Scribe says" --urgency=low`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if strings.Join(args, "|") != "notify-send|Scribe says|--urgency=low" {
		t.Fatalf("args=%q", args)
	}
}

func TestRedactPII(t *testing.T) {
	got := redactPII("mail me at jane.doe@example.com or call +1 (555) 123-4567")
	if strings.Contains(got, "example.com") || strings.Contains(got, "555") {
		t.Fatalf("pii not redacted: %q", got)
	}
}
